package v4l2

import "time"

// Config sizes the buffer pools of a decoding device.
type Config struct {
	// Number of compressed buffers on the output queue.
	OutputBuffers int

	// Size in bytes of one compressed buffer. Access units larger than this
	// are rejected.
	OutputBufferSize int

	// Capture buffers allocated on top of the minimum the driver asks for.
	ExtraCaptureBuffers int

	// How long to wait for the driver to parse the stream header before the
	// decoded format is read anyway.
	SourceChangeTimeout time.Duration
}

const (
	defaultOutputBuffers       = 4
	defaultOutputBufferSize    = 1 << 20
	defaultExtraCaptureBuffers = 2
	defaultSourceChangeTimeout = time.Second
)

func (cfg *Config) setDefaults() {
	if cfg.OutputBuffers <= 0 {
		cfg.OutputBuffers = defaultOutputBuffers
	}
	if cfg.OutputBufferSize <= 0 {
		cfg.OutputBufferSize = defaultOutputBufferSize
	}
	if cfg.ExtraCaptureBuffers <= 0 {
		cfg.ExtraCaptureBuffers = defaultExtraCaptureBuffers
	}
	if cfg.SourceChangeTimeout <= 0 {
		cfg.SourceChangeTimeout = defaultSourceChangeTimeout
	}
}
