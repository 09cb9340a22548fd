// Package media provides compressed video sources to feed a decoder, and the
// fan-out of decoded frames to their consumers.
package media

import (
	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")

// Source is a compressed video stream.
type Source interface {
	// Description of the stream, valid once the source is open.
	Description() *decoder.StreamDescription

	// ReadFrame returns the next access unit in decoding order, or io.EOF at
	// the end of the stream. Sequence numbers are left to the caller.
	ReadFrame() (*decoder.Frame, error)

	// Free up any resources associated with the source
	Close() error
}

// A Rewinder is a source that can restart from the beginning.
type Rewinder interface {
	Rewind() error
}
