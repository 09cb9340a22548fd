package color

import (
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
)

// Convertible lists the layouts ToI420 accepts, cheapest first.
var Convertible = []decoder.PixelFormat{decoder.I420, decoder.YV12, decoder.NV12, decoder.NV21, decoder.YUYV}

// I420Sink converts every decoded frame to planar I420 before passing it on.
func I420Sink(next decoder.Sink) decoder.Sink {
	return &i420Sink{next: next}
}

type i420Sink struct {
	next decoder.Sink

	mu    sync.Mutex
	state decoder.OutputState
}

func (s *i420Sink) SetOutputState(state *decoder.OutputState) error {
	supported := false
	for _, f := range Convertible {
		if f == state.PixelFormat {
			supported = true
		}
	}
	if !supported {
		return errors.Errorf("%v: %w", state.PixelFormat, ErrUnsupported)
	}

	out := *state
	out.PixelFormat = decoder.I420
	out.SizeImage = I420Size(state.Width, state.Height)
	if err := s.next.SetOutputState(&out); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = *state
	s.mu.Unlock()
	return nil
}

func (s *i420Sink) PushFrame(frame *decoder.DecodedFrame) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	data, err := ToI420(nil, frame.Data, st.PixelFormat, st.Width, st.Height)
	if err != nil {
		return err
	}
	out := *frame
	out.Data = data
	return s.next.PushFrame(&out)
}
