package v4l2

import (
	"fmt"

	"github.com/lanikai/alohadec/internal/decoder"
)

// Capabilities describes a memory-to-memory decoding device.
type Capabilities struct {
	Path   string
	Driver string
	Card   string

	// Compressed formats accepted on the output queue.
	InputFormats []decoder.PixelFormat

	// Raw formats offered on the capture queue. Some drivers only report
	// the complete list once a stream header was parsed.
	OutputFormats []decoder.PixelFormat
}

func (c *Capabilities) String() string {
	return fmt.Sprintf("%s (%s, %s): %v -> %v", c.Path, c.Driver, c.Card, c.InputFormats, c.OutputFormats)
}

// CanDecode reports whether the device accepts codec.
func (c *Capabilities) CanDecode(codec decoder.PixelFormat) bool {
	for _, f := range c.InputFormats {
		if f == codec {
			return true
		}
	}
	return false
}

// Interlace mode for a V4L2 field order.
func interlaceMode(field uint32) decoder.InterlaceMode {
	switch field {
	case fieldInterlaced, fieldInterlacedTB, fieldInterlacedBT:
		return decoder.Interleaved
	case fieldSeqTB, fieldSeqBT:
		return decoder.Mixed
	case fieldAlternate:
		return decoder.Alternate
	default:
		return decoder.Progressive
	}
}

// V4L2 field orders, kept platform independent for interlaceMode.
const (
	fieldInterlaced   = 4
	fieldSeqTB        = 5
	fieldSeqBT        = 6
	fieldAlternate    = 7
	fieldInterlacedTB = 8
	fieldInterlacedBT = 9
)
