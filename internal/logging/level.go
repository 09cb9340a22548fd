package logging

import (
	"strconv"
	"strings"

	"github.com/fatih/color"
	errors "golang.org/x/xerrors"
)

// Logging level. Higher values indicate more verbosity.
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug

	// Allow numeric logging levels up to 9.
	MaxLevel Level = 9
)

// Default level can be changed by environment variable.
var defaultLevel = Info

func parseLevel(s string) (level Level, err error) {
	// First check for well-known level names or abbreviations.
	switch strings.ToUpper(s) {
	case "E", "ERROR":
		return Error, nil
	case "W", "WARN":
		return Warn, nil
	case "I", "INFO":
		return Info, nil
	case "D", "DEBUG":
		return Debug, nil
	case "T", "TRACE":
		return MaxLevel, nil
	}

	// Otherwise expect an explicit numeric level.
	n, ierr := strconv.Atoi(s)
	if ierr != nil {
		return 0, errors.Errorf("invalid logging level %q", s)
	}
	level = Level(n)
	if level < Error || level > MaxLevel {
		return 0, errors.Errorf("numeric level out of range: %s", s)
	}
	return level, nil
}

func (l Level) String() string {
	switch l {
	case Error:
		return "Error"
	case Warn:
		return "Warn"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return strconv.Itoa(int(l))
	}
}

func (l Level) letter() byte {
	if l <= Debug {
		return "EWID"[l-Error]
	}
	// Numeric values up to 9 are allowed.
	return byte('0' + l)
}

var levelColors = map[Level]*color.Color{
	Error: color.New(color.FgRed, color.Bold),
	Warn:  color.New(color.FgRed),
	Info:  color.New(color.Reset),
	Debug: color.New(color.FgGreen),
}

var traceColor = color.New(color.FgYellow)

var prefixColor = color.New(color.FgWhite)

func (l Level) color() *color.Color {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return traceColor
}
