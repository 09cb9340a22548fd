package decoder

import (
	"fmt"
	"time"
)

// Frame is a compressed access unit submitted for decoding. Once submitted it
// stays pending until a decoded buffer is paired with it.
type Frame struct {
	PTS      time.Duration
	Duration time.Duration
	Sequence uint64
	KeyFrame bool

	// Optional codec side data (e.g. parameter sets), only used if it is the
	// first frame of a stream and the stream description carries none.
	CodecData []byte

	// Compressed payload. Released (set to nil) by Submit.
	Payload []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame #%d pts=%v", f.Sequence, f.PTS)
}

// older reports whether f sorts before g: smaller timestamp, then smaller
// sequence number.
func (f *Frame) older(g *Frame) bool {
	if f.PTS != g.PTS {
		return f.PTS < g.PTS
	}
	return f.Sequence < g.Sequence
}

// DecodedFrame is a decoded picture carrying the identity of the frame it was
// paired with.
type DecodedFrame struct {
	PTS      time.Duration
	Duration time.Duration
	Sequence uint64

	Data []byte
}
