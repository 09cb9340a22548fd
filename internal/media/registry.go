package media

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Open a source based on its "source spec". A source spec is a colon-separated string
// consisting of a source tag and a source path:
//    sourceSpec = sourceTag + ":" + sourcePath
// The format of the source path is defined by the registered OpenFunc. A spec
// without tag is opened according to its file extension.
func OpenSource(spec string) (Source, error) {
	log.Debug("Registered source types: %v", SourceTypes())

	// Split the spec string into tag and path
	parts := strings.SplitN(spec, ":", 2)
	var tag, path string
	if len(parts) == 2 {
		tag, path = parts[0], parts[1]
	} else {
		path = spec
		tag = tagForExtension(path)
	}

	open, found := registry[tag]
	if !found {
		return nil, errors.Errorf("Source type '%s' not registered", tag)
	}
	src, err := open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s source %s", tag, path)
	}
	return src, nil
}

func tagForExtension(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	switch ext := strings.ToLower(path[i+1:]); ext {
	case "264", "h264", "avc":
		return "h264"
	case "mp4", "m4v", "mov":
		return "mp4"
	default:
		return ext
	}
}

// SourceTypes lists the registered source tags.
func SourceTypes() []string {
	var tags []string
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// A function used to open a specific source type.
type OpenFunc func(path string) (Source, error)

var registry = map[string]OpenFunc{}

// Register a source type, identified by its "source tag". Sources of this type will be
// opened with the given function.
func RegisterSourceType(tag string, open OpenFunc) {
	registry[tag] = open
}
