//////////////////////////////////////////////////////////////////////////////
//
// Feeds a compressed source into a decoder
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"
	"io"
	"time"

	"go.uber.org/atomic"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/logging"
	"github.com/lanikai/alohadec/internal/media"
)

var log = logging.DefaultLogger.WithTag("pipeline")

type Options struct {
	// Play the source again when it ends. Requires a media.Rewinder.
	Loop bool

	// Submit frames no faster than their timestamps.
	Realtime bool
}

// Runner submits the frames of one source to one decoder.
type Runner struct {
	dec  *decoder.Decoder
	src  media.Source
	opts Options

	seq     atomic.Uint64
	restart atomic.Bool

	// Wall clock time of PTS zero, for realtime pacing.
	start time.Time
}

func New(dec *decoder.Decoder, src media.Source, opts Options) *Runner {
	return &Runner{dec: dec, src: src, opts: opts}
}

// Restart discards everything in flight and plays the source from the
// beginning. It takes effect before the next frame is read.
func (r *Runner) Restart() {
	r.restart.Store(true)
}

// Submitted returns the number of frames handed to the decoder.
func (r *Runner) Submitted() uint64 {
	return r.seq.Load()
}

// Run feeds the source until it ends, ctx is done or the decoder fails. The
// decoder is shut down and closed on return; the source is left open.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := Shutdown(r.dec); err == nil {
			err = serr
		}
	}()

	if err := r.dec.Configure(r.src.Description()); err != nil {
		return err
	}
	if err := r.dec.Start(); err != nil {
		return err
	}

	// Cancellation unblocks any submit or drain in progress.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.dec.Deactivate()
		case <-done:
		}
	}()

	for ctx.Err() == nil {
		if r.restart.CompareAndSwap(true, false) {
			if err := r.rewind(); err != nil {
				return err
			}
		}

		f, err := r.src.ReadFrame()
		if err == io.EOF {
			log.Debug("End of stream after %d frames", r.seq.Load())
			if err := r.dec.Drain(); err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
			if !r.opts.Loop {
				return nil
			}
			if err := r.rewind(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return errors.Errorf("reading frame: %w", err)
		}

		f.Sequence = r.seq.Inc() - 1
		r.pace(ctx, f.PTS)

		if err := r.dec.Submit(f); err != nil {
			if errors.Is(err, decoder.ErrFlushing) && ctx.Err() != nil {
				break
			}
			return err
		}
	}
	return nil
}

// rewind flushes the decoder and seeks the source back to its start.
func (r *Runner) rewind() error {
	rw, ok := r.src.(media.Rewinder)
	if !ok {
		return errors.New("source cannot be rewound")
	}
	if err := r.dec.Flush(); err != nil {
		return err
	}
	r.start = time.Time{}
	log.Info("Restarting source")
	return rw.Rewind()
}

func (r *Runner) pace(ctx context.Context, pts time.Duration) {
	if !r.opts.Realtime {
		return
	}
	if r.start.IsZero() {
		// The first frame is presented immediately.
		r.start = time.Now().Add(-pts)
		return
	}
	t := time.NewTimer(time.Until(r.start.Add(pts)))
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Shutdown deactivates, flushes, stops and closes a decoder, returning the
// first error.
func Shutdown(dec *decoder.Decoder) error {
	dec.Deactivate()
	err := dec.Flush()
	if e := dec.Stop(); err == nil {
		err = e
	}
	if e := dec.Close(); err == nil {
		err = e
	}
	return err
}
