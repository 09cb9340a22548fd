// Package registry discovers V4L2 decoding devices and builds decoders for
// them.
package registry

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/logging"
	"github.com/lanikai/alohadec/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("registry")

// ErrNoDevice is returned when no discovered device accepts a codec.
var ErrNoDevice = errors.New("no decoding device found")

// DefaultPattern matches the video device nodes.
const DefaultPattern = "/dev/video*"

// Config of the devices and decoders built by a registry.
type Config struct {
	Device  v4l2.Config
	Decoder decoder.Config
}

type probeResult struct {
	caps *v4l2.Capabilities
	err  error
}

// Registry probes device nodes once and remembers the results, including
// failures, until they are evicted or forgotten.
type Registry struct {
	// Glob matching candidate device nodes.
	Pattern string

	// Reports the capabilities of one device node. Defaults to v4l2.Probe.
	Probe func(path string) (*v4l2.Capabilities, error)

	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a registry remembering at most size probe results.
func New(size int) *Registry {
	return &Registry{
		Pattern: DefaultPattern,
		Probe:   v4l2.Probe,
		cache:   lru.New(size),
	}
}

func (r *Registry) probe(path string) (*v4l2.Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(path); ok {
		res := v.(probeResult)
		return res.caps, res.err
	}

	caps, err := r.Probe(path)
	if err == nil && len(caps.InputFormats) == 0 {
		err = errors.Errorf("%s: no compressed formats", path)
	}
	r.cache.Add(path, probeResult{caps, err})
	return caps, err
}

// Forget drops the cached probe result of path, e.g. after a hotplug.
func (r *Registry) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(path)
}

// Scan returns the decoding devices matching the pattern, sorted by path.
// Nodes that fail to probe are skipped.
func (r *Registry) Scan() ([]*v4l2.Capabilities, error) {
	paths, err := filepath.Glob(r.Pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var found []*v4l2.Capabilities
	for _, path := range paths {
		caps, err := r.probe(path)
		if err != nil {
			log.Debug("Skipping %s: %v", path, err)
			continue
		}
		log.Debug("Found %v", caps)
		found = append(found, caps)
	}
	return found, nil
}

// Find returns the first device accepting codec.
func (r *Registry) Find(codec decoder.PixelFormat) (*v4l2.Capabilities, error) {
	devices, err := r.Scan()
	if err != nil {
		return nil, err
	}
	for _, caps := range devices {
		if caps.CanDecode(codec) {
			return caps, nil
		}
	}
	return nil, errors.Errorf("%v: %w", codec, ErrNoDevice)
}

// NewDecoder opens the device at path and builds a decoder delivering into
// sink.
func NewDecoder(path string, sink decoder.Sink, cfg Config) (*decoder.Decoder, error) {
	dev, err := v4l2.Open(path, cfg.Device)
	if err != nil {
		return nil, err
	}
	d, err := decoder.Open(dev, sink, cfg.Decoder)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return d, nil
}

// Decoders builds one decoder per discovered device. sink is called once per
// device. Devices that fail to open are skipped.
func (r *Registry) Decoders(sink func(*v4l2.Capabilities) decoder.Sink, cfg Config) ([]*decoder.Decoder, error) {
	devices, err := r.Scan()
	if err != nil {
		return nil, err
	}

	var decoders []*decoder.Decoder
	for _, caps := range devices {
		d, err := NewDecoder(caps.Path, sink(caps), cfg)
		if err != nil {
			log.Warn("Cannot use %s: %v", caps.Path, err)
			continue
		}
		decoders = append(decoders, d)
	}
	return decoders, nil
}
