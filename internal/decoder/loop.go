package decoder

import (
	errors "golang.org/x/xerrors"
)

// LoopState is the state of the capture goroutine.
type LoopState int32

const (
	Idle LoopState = iota
	Running
	Draining
	Stopped
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// captureLoop drains decoded buffers from the capture queue and pushes them
// downstream paired with their frame. It runs until the queue is unlocked, the
// device reports end of output, or an error occurs.
func (d *Decoder) captureLoop() {
	log.Debug("%s: capture loop started", d.device)

	var ret error
	for {
		buf, err := d.capture.Dequeue()
		if err != nil {
			ret = err
			break
		}

		// The device has no more output until it is restarted. Outside of a
		// drain this means the stream parameters changed.
		if len(buf.Data) == 0 {
			log.Debug("%s: end of output", d.device)
			if d.LoopState() != Draining {
				ret = ErrSourceChanged
			}
			break
		}

		frame := d.pending.TakeOldest()
		if frame == nil {
			d.stats.Spurious.Inc()
			log.Warn("%s: decoder is producing too many buffers (%d bytes dropped): %v",
				d.device, len(buf.Data), ErrSpuriousOutput)
			continue
		}

		d.stats.Decoded.Inc()
		err = d.sink.PushFrame(&DecodedFrame{
			PTS:      frame.PTS,
			Duration: frame.Duration,
			Sequence: frame.Sequence,
			Data:     buf.Data,
		})
		if err != nil {
			ret = err
			break
		}
	}

	d.leaveLoop(ret)
}

// leaveLoop records the terminal result of the capture loop and unblocks the
// feeding side, which may be waiting for room on the output queue or pushing
// drain requests.
func (d *Decoder) leaveLoop(ret error) {
	switch {
	case ret == nil:
		log.Debug("%s: leaving capture loop", d.device)
	case errors.Is(ret, ErrFlushing):
		log.Debug("%s: leaving capture loop, flushing", d.device)
	case errors.Is(ret, ErrSourceChanged):
		log.Info("%s: leaving capture loop, source changed", d.device)
	default:
		log.Error("%s: capture loop stopped: %v", d.device, ret)
	}

	d.mu.Lock()
	d.result = ret
	if isFatal(ret) {
		d.fatal = ret
		d.active.Store(false)
	}
	d.processing.Store(false)
	d.loopState.Store(int32(Stopped))
	d.mu.Unlock()

	d.output.Unlock()
}
