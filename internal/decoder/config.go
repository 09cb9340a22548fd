package decoder

import "time"

// Config tunes a decoder instance.
type Config struct {
	// Raw formats accepted downstream, in order of preference. Defaults to
	// RawFormats.
	RawFormats []PixelFormat

	// Compressed formats the decoder may be configured with. Defaults to
	// CodecFormats.
	Codecs []PixelFormat

	// Frame duration used for the latency estimate when the stream has no
	// frame rate.
	DefaultFrameDuration time.Duration
}

func (c *Config) rawFormats() []PixelFormat {
	if len(c.RawFormats) > 0 {
		return c.RawFormats
	}
	return RawFormats
}

func (c *Config) codecs() []PixelFormat {
	if len(c.Codecs) > 0 {
		return c.Codecs
	}
	return CodecFormats
}

func (c *Config) frameDuration(rate Fraction) time.Duration {
	if d := rate.FrameDuration(); d > 0 {
		return d
	}
	if c.DefaultFrameDuration > 0 {
		return c.DefaultFrameDuration
	}
	return time.Second / 30
}
