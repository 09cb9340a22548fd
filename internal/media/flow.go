package media

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/lanikai/alohadec/internal/decoder"
)

// Flow fans decoded frames out to any number of subscribers. It implements
// decoder.Sink. Slow subscribers lose their oldest frames rather than
// stalling the decoder.
type Flow struct {
	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called when the last subscriber is removed.
	Stop func()

	// AcceptState, if set, may reject a negotiated output format.
	AcceptState func(state *decoder.OutputState) error

	subscribers []chan *decoder.DecodedFrame
	state       *decoder.OutputState
	closed      bool

	missed atomic.Uint64

	sync.Mutex
}

func (f *Flow) Subscribe(capacity int) <-chan *decoder.DecodedFrame {
	f.Lock()
	defer f.Unlock()

	if capacity == 0 {
		panic("media.Flow: subscriber capacity must be nonzero")
	}

	s := make(chan *decoder.DecodedFrame, capacity)
	if f.closed {
		close(s)
		return s
	}
	f.subscribers = append(f.subscribers, s)
	if f.Start != nil && len(f.subscribers) == 1 {
		f.Start()
	}
	return s
}

func (f *Flow) Unsubscribe(s <-chan *decoder.DecodedFrame) {
	f.Lock()
	defer f.Unlock()

	found := false
	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]
			found = true
			break
		}
	}

	if found && f.Stop != nil && len(f.subscribers) == 0 {
		go f.Stop()
	}
}

// Subscribers returns the number of current subscribers.
func (f *Flow) Subscribers() int {
	f.Lock()
	defer f.Unlock()
	return len(f.subscribers)
}

// OutputState returns the last format announced by the decoder, or nil.
func (f *Flow) OutputState() *decoder.OutputState {
	f.Lock()
	defer f.Unlock()
	return f.state
}

// Missed returns the number of frames dropped for slow subscribers.
func (f *Flow) Missed() uint64 {
	return f.missed.Load()
}

func (f *Flow) SetOutputState(state *decoder.OutputState) error {
	if f.AcceptState != nil {
		if err := f.AcceptState(state); err != nil {
			return err
		}
	}

	f.Lock()
	defer f.Unlock()
	if f.closed {
		return decoder.ErrFlushing
	}
	f.state = state
	log.Info("Output format %v at %v, latency %v", state.Format, state.FrameRate, state.Latency)
	return nil
}

func (f *Flow) PushFrame(frame *decoder.DecodedFrame) error {
	f.Lock()
	defer f.Unlock()

	if f.closed {
		return decoder.ErrFlushing
	}

	for _, subscriber := range f.subscribers {
		select {
		case subscriber <- frame:
		default:
			// Drop oldest frame, add newest
			select {
			case <-subscriber:
			default:
			}
			subscriber <- frame

			n := f.missed.Inc()
			log.Trace(2, "media.Flow: subscriber missed a frame (%d total)", n)
		}
	}
	return nil
}

// Close disconnects all subscribers. Frames pushed afterwards are refused.
func (f *Flow) Close() error {
	f.Lock()
	defer f.Unlock()

	f.closed = true
	for _, subscriber := range f.subscribers {
		close(subscriber)
	}
	f.subscribers = nil
	return nil
}
