package media

import (
	"io"
	"os"
	"time"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/h264"
)

// Frame rate assumed for raw H.264 streams, which carry no timing.
var DefaultFrameRate = decoder.Fraction{Num: 30, Den: 1}

// Raw H.264 source with NALUs separated by Annex B start codes. Frames are
// stamped at a fixed rate.
type h264Source struct {
	in     io.ReadCloser
	reader *h264.AccessUnitReader
	desc   decoder.StreamDescription

	// Index of the next frame, used for timestamps.
	n int64

	// Parameter sets last attached to a frame.
	sent []byte
}

// NewH264Source reads an Annex-B byte stream from in. Geometry is left to the
// device to discover.
func NewH264Source(in io.ReadCloser, rate decoder.Fraction) Source {
	return &h264Source{
		in:     in,
		reader: h264.NewAccessUnitReader(in),
		desc: decoder.StreamDescription{
			Codec:     decoder.H264,
			FrameRate: rate,
		},
	}
}

func (s *h264Source) Description() *decoder.StreamDescription {
	return &s.desc
}

func (s *h264Source) ReadFrame() (*decoder.Frame, error) {
	au, err := s.reader.Read()
	if err != nil {
		return nil, err
	}

	dur := s.desc.FrameRate.FrameDuration()
	f := &decoder.Frame{
		PTS:      time.Duration(s.n) * dur,
		Duration: dur,
		KeyFrame: au.KeyFrame,
		Payload:  au.Data,
	}
	s.n++

	if au.KeyFrame {
		if ps := s.reader.ParameterSets(); ps != nil && string(ps) != string(s.sent) {
			f.CodecData = ps
			s.sent = ps
		}
	}
	return f, nil
}

// Rewind restarts the stream from the beginning of the file. Timestamps keep
// increasing.
func (s *h264Source) Rewind() error {
	seeker, ok := s.in.(io.Seeker)
	if !ok {
		return errNotSeekable
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.reader = h264.NewAccessUnitReader(s.in)
	return nil
}

func (s *h264Source) Close() error {
	return s.in.Close()
}

func openH264(filename string) (Source, error) {
	if filename == "-" {
		return NewH264Source(os.Stdin, DefaultFrameRate), nil
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	log.Info("Opening file %s", filename)
	return NewH264Source(f, DefaultFrameRate), nil
}

func init() {
	RegisterSourceType("h264", openH264)
}
