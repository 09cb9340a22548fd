//////////////////////////////////////////////////////////////////////////////
//
// Stateful memory-to-memory video decoder
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package decoder drives a stateful hardware decoder exposed as two buffer
// queues: compressed access units go into the output queue, decoded frames
// come out of the capture queue. A dedicated goroutine drains the capture
// queue so the device pipeline stays full while the caller keeps submitting.
//
// Lifecycle:
//
//	d, err := decoder.Open(dev, sink, decoder.Config{})
//	d.Configure(&desc)
//	d.Start()
//	for each frame { d.Submit(frame) }
//	d.Drain()
//	d.Deactivate()
//	d.Flush()
//	d.Stop()
//	d.Close()
package decoder

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	errors "golang.org/x/xerrors"
)

type inputState struct {
	desc   StreamDescription
	format Format
}

// Decoder is a decoding element bound to one device.
type Decoder struct {
	cfg    Config
	device string

	output  Queue
	capture Queue
	sink    Sink

	neg     *negotiator
	pending *Correlator

	// Serializes the pipeline-facing operations. Submit and Drain release it
	// around enqueues that can block for as long as the device wants, so that
	// Flush and teardown are never stuck behind them.
	streamMu sync.Mutex

	// Guarded by streamMu.
	input    *inputState
	outState *OutputState

	// Liveness flags. Transitions happen under mu; reads may be lock-free.
	active     atomic.Bool
	processing atomic.Bool
	loopState  atomic.Int32

	mu     sync.Mutex
	result error // terminal result of the last capture loop run
	fatal  error // sticky device failure

	loop  task
	stats Stats
}

// Open opens both queues of dev and probes their formats. It fails with a
// *NegotiationError if the device has no usable compressed input or raw output
// format, in which case no queue is left open.
func Open(dev Device, sink Sink, cfg Config) (*Decoder, error) {
	log.Debug("opening %s", dev.Path())

	output, err := dev.OpenQueue(Output)
	if err != nil {
		return nil, err
	}
	capture, err := dev.OpenQueue(Capture)
	if err != nil {
		output.Close()
		return nil, err
	}

	d := &Decoder{
		cfg:     cfg,
		device:  dev.Path(),
		output:  output,
		capture: capture,
		sink:    sink,
		pending: NewCorrelator(),
	}
	if err := d.probe(); err != nil {
		output.Close()
		capture.Close()
		return nil, err
	}
	return d, nil
}

func (d *Decoder) probe() error {
	in, err := d.output.ProbeFormats()
	if err != nil {
		return err
	}
	out, err := d.capture.ProbeFormats()
	if err != nil {
		return err
	}
	log.Debug("%s: probed input %v, output %v", d.device, in, out)

	d.neg, err = newNegotiator(d.device, in, out, &d.cfg)
	return err
}

// Close releases both queues. The decoder must be stopped.
func (d *Decoder) Close() error {
	log.Debug("closing %s", d.device)
	errOut := d.output.Close()
	errCap := d.capture.Close()
	if errOut != nil {
		return errOut
	}
	return errCap
}

// Start makes the decoder accept frames. A decoder that hit a device failure
// cannot be restarted.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fatal != nil {
		return d.fatal
	}
	log.Debug("%s: starting", d.device)

	// The output queue stays locked until the first frame arrives.
	d.output.Unlock()
	d.capture.UnlockStop()
	d.result = nil
	d.active.Store(true)
	return nil
}

// Deactivate stops accepting frames and unblocks any enqueue or dequeue in
// progress. Follow with Flush and Stop.
func (d *Decoder) Deactivate() {
	log.Debug("%s: deactivating", d.device)
	d.mu.Lock()
	d.active.Store(false)
	d.mu.Unlock()

	d.output.Unlock()
	d.capture.Unlock()
}

// Stop stops both queues and forgets the negotiated formats. The decoder must
// be quiescent: calling Stop while active or while the capture loop runs is a
// programming error and panics.
func (d *Decoder) Stop() error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	log.Debug("%s: stopping", d.device)
	if d.active.Load() {
		panic("decoder: Stop called on an active decoder")
	}
	if d.processing.Load() {
		panic("decoder: Stop called while the capture loop is running")
	}
	d.loop.join()

	errOut := d.output.Stop()
	errCap := d.capture.Stop()
	d.pending.Clear()
	d.input = nil
	d.outState = nil
	d.loopState.Store(int32(Idle))

	log.Debug("%s: stopped", d.device)
	if errOut != nil {
		return errOut
	}
	return errCap
}

// Configure sets the compressed stream description. A description compatible
// with the current one is accepted as is. Any other change drains the
// decoder and renegotiates from scratch on the next frame.
func (d *Decoder) Configure(desc *StreamDescription) error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	log.Debug("%s: setting format %v %dx%d @%v", d.device, desc.Codec, desc.Width, desc.Height, desc.FrameRate)

	if d.input != nil {
		if desc.compatible(&d.input.desc) {
			log.Debug("%s: compatible stream description", d.device)
			d.input.desc.FrameRate = desc.FrameRate
			if len(desc.CodecData) > 0 {
				d.input.desc.CodecData = desc.CodecData
			}
			return nil
		}
		log.Info("%s: stream changed to %v %dx%d, renegotiating", d.device, desc.Codec, desc.Width, desc.Height)
		if err := d.reset(); err != nil && !errors.Is(err, ErrFlushing) {
			log.Warn("%s: draining before renegotiation: %v", d.device, err)
		}
	}

	f, err := d.neg.inputFormat(desc)
	if err != nil {
		return err
	}
	applied, err := d.output.SetFormat(f)
	if err != nil {
		return err
	}
	d.input = &inputState{desc: *desc, format: applied}
	return nil
}

// reset tears the negotiated state down so that the next frame is handled as
// the first of a new stream. Called with streamMu held.
func (d *Decoder) reset() error {
	var err error
	if d.processing.Load() {
		err = d.drain()
	}

	d.output.Unlock()
	d.capture.Unlock()
	d.loop.join()

	if e := d.output.Stop(); e != nil && err == nil {
		err = e
	}
	if e := d.capture.Stop(); e != nil && err == nil {
		err = e
	}
	d.pending.Clear()
	d.capture.UnlockStop()

	d.mu.Lock()
	d.result = nil
	d.mu.Unlock()
	d.loopState.Store(int32(Idle))

	d.input = nil
	d.outState = nil
	return err
}

// Submit hands one compressed frame to the device. The first frame of a
// stream also triggers output negotiation and starts the capture loop. The
// frame payload is always released.
func (d *Decoder) Submit(f *Frame) error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	defer func() { f.Payload = nil }()

	d.stats.Submitted.Inc()
	log.Trace(5, "%s: handling %v", d.device, f)
	return d.submit(f)
}

// Called with streamMu held.
func (d *Decoder) submit(f *Frame) error {
	if !d.active.Load() {
		if fatal := d.fatalError(); fatal != nil {
			return d.drop(f, fatal)
		}
		return d.drop(f, ErrFlushing)
	}
	if d.input == nil {
		return d.drop(f, notNegotiated(errors.New("no stream description")))
	}

	if !d.processing.Load() && errors.Is(d.terminalResult(), ErrSourceChanged) {
		if err := d.renegotiate(); err != nil {
			return d.drop(f, err)
		}
	}

	if !d.output.IsActive() {
		if _, err := d.output.SetFormat(d.input.format); err != nil {
			return d.drop(f, notNegotiated(err))
		}
	}

	d.pending.Record(f)

	if !d.capture.IsActive() {
		if err := d.setupCapture(f); err != nil {
			return d.drop(f, err)
		}
	}

	if !d.processing.Load() {
		// The capture loop may have stopped because of an error.
		if res := d.terminalResult(); res != nil {
			log.Debug("%s: capture loop stopped with error, leaving", d.device)
			return d.drop(f, res)
		}
		d.startLoop()
	}

	if f.Payload != nil {
		payload := f.Payload
		d.streamMu.Unlock()
		err := d.output.Enqueue(payload)
		d.streamMu.Lock()

		if errors.Is(err, ErrFlushing) && !d.processing.Load() {
			if res := d.terminalResult(); res != nil {
				err = res
			}
		}
		if errors.Is(err, ErrSourceChanged) {
			// The payload never reached the device. It starts the new stream.
			d.pending.Remove(f)
			if err := d.renegotiate(); err != nil {
				return d.drop(f, err)
			}
			f.Payload = payload
			return d.submit(f)
		}
		if err != nil {
			d.noteError(err)
			return d.drop(f, err)
		}
	}
	return nil
}

// drop forgets a frame that will never be decoded.
func (d *Decoder) drop(f *Frame, err error) error {
	d.pending.Remove(f)
	d.stats.Dropped.Inc()
	if !errors.Is(err, ErrFlushing) {
		log.Warn("%s: dropping %v: %v", d.device, f, err)
	}
	return err
}

// setupCapture sends the stream header to the device, then negotiates and
// starts the capture queue. Called with streamMu held.
func (d *Decoder) setupCapture(f *Frame) error {
	// Without a header the device refuses to initialize. Use the codec data
	// when there is some, otherwise the frame itself.
	header := d.input.desc.CodecData
	if len(header) == 0 {
		header = f.CodecData
	}
	if len(header) == 0 {
		header = f.Payload
		f.Payload = nil
	}
	log.Debug("%s: sending header (%d bytes)", d.device, len(header))

	d.streamMu.Unlock()
	d.output.UnlockStop()
	err := d.output.Enqueue(header)
	d.output.Unlock()
	d.streamMu.Lock()
	if err != nil {
		d.noteError(err)
		return d.abortSetup(err)
	}

	info, err := d.negotiateOutput()
	if err != nil {
		return d.abortSetup(err)
	}
	if err := d.capture.Start(); err != nil {
		d.noteError(err)
		return d.abortSetup(err)
	}

	state := &OutputState{
		Format:    info,
		FrameRate: d.input.desc.FrameRate,
		Latency:   d.latency(),
	}
	log.Info("%s: decoding %v to %v, latency %v", d.device, d.input.format.PixelFormat, info, state.Latency)

	if err := d.sink.SetOutputState(state); err != nil {
		if errors.Is(err, ErrFlushing) {
			return d.abortSetup(ErrFlushing)
		}
		return d.abortSetup(notNegotiated(err))
	}
	d.outState = state
	return nil
}

// abortSetup stops both queues after a failed first frame, so that the next
// one sends the header to an idle device again. Called with streamMu held.
func (d *Decoder) abortSetup(err error) error {
	if e := d.output.Stop(); e != nil {
		log.Debug("%s: stopping output after failed setup: %v", d.device, e)
	}
	if e := d.capture.Stop(); e != nil {
		log.Debug("%s: stopping capture after failed setup: %v", d.device, e)
	}
	return err
}

// renegotiate tears the device down after it reported new stream parameters,
// keeping the stream description. Frames still on the device are lost. The
// codec data describes the old stream; the new one carries its headers in
// band. Called with streamMu held.
func (d *Decoder) renegotiate() error {
	log.Info("%s: source changed, renegotiating", d.device)

	in := d.input
	n := d.pending.Len()
	err := d.reset()
	if n > 0 {
		d.stats.Dropped.Add(uint64(n))
		log.Warn("%s: %d frames lost on source change", d.device, n)
	}
	if err != nil && !errors.Is(err, ErrFlushing) {
		d.noteError(err)
		return err
	}

	in.desc.CodecData = nil
	d.input = in
	return nil
}

// negotiateOutput picks the capture format once the device knows the decoded
// geometry.
func (d *Decoder) negotiateOutput() (Format, error) {
	reported, err := d.capture.CurrentFormat()
	if err != nil {
		return Format{}, notNegotiated(err)
	}
	offered, err := d.capture.ProbeFormats()
	if err != nil {
		return Format{}, notNegotiated(err)
	}
	candidates, err := d.neg.outputCandidates(reported, offered)
	if err != nil {
		return Format{}, notNegotiated(err)
	}

	var lastErr error
	for _, pf := range candidates {
		want := reported
		want.PixelFormat = pf
		applied, err := d.capture.SetFormat(want)
		if err == nil {
			return applied, nil
		}
		log.Debug("%s: capture format %v rejected: %v", d.device, pf, err)
		lastErr = err
	}
	return Format{}, notNegotiated(&NegotiationError{
		Device:    d.device,
		Direction: Capture,
		Err:       errors.Errorf("%v: %w", lastErr, ErrNoSupportedOutputFormat),
	})
}

// startLoop starts the capture goroutine. Called with streamMu held.
func (d *Decoder) startLoop() {
	log.Debug("%s: starting decoding thread", d.device)

	// A previous run may still be returning; it unlocks the output queue on
	// its way out, which must happen before input is enabled again.
	d.loop.join()
	d.output.UnlockStop()

	d.mu.Lock()
	d.result = nil
	d.processing.Store(true)
	d.loopState.Store(int32(Running))
	d.mu.Unlock()

	d.loop.start(d.captureLoop)
}

// Flush discards everything in flight: the capture loop is stopped, both
// queues are flushed and pending frames are dropped. The decoder accepts new
// frames afterwards.
func (d *Decoder) Flush() error {
	log.Debug("%s: flushing", d.device)

	// Unblock anything waiting on the device before taking the stream lock.
	d.output.Unlock()
	d.capture.Unlock()

	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	d.loop.join()

	// A source change still has to be handled by the next frame.
	d.mu.Lock()
	if !errors.Is(d.result, ErrSourceChanged) {
		d.result = nil
	}
	d.mu.Unlock()

	errOut := d.output.Flush()
	errCap := d.capture.Flush()
	if n := d.pending.Clear(); n > 0 {
		log.Debug("%s: discarded %d pending frames", d.device, n)
	}
	d.loopState.Store(int32(Idle))
	d.stats.Flushes.Inc()

	// Output stays locked until a new frame comes in.
	d.capture.UnlockStop()

	if errOut != nil {
		return errOut
	}
	return errCap
}

// Drain makes the device finish every submitted frame and blocks until the
// capture loop has pushed them and stopped. It returns nil unless a real
// error occurred.
func (d *Decoder) Drain() error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	return d.drain()
}

// Called with streamMu held.
func (d *Decoder) drain() error {
	if d.input == nil || !d.processing.Load() {
		return ignoreSourceChange(d.terminalResult())
	}

	if d.pending.Len() == 0 {
		// Nothing left to wait for. Stop the loop without involving the
		// device.
		d.capture.Unlock()
		d.loop.join()
		d.capture.UnlockStop()
		return d.clearFlushing()
	}

	log.Debug("%s: finishing decoding, %d frames pending", d.device, d.pending.Len())
	d.loopState.Store(int32(Draining))

	// Keep queuing empty buffers until the capture loop has stopped. The
	// loop unlocks the output queue on exit, which ends this.
	d.streamMu.Unlock()
	var err error
	for err == nil {
		err = d.output.Enqueue(nil)
	}
	if !errors.Is(err, ErrFlushing) {
		d.noteError(err)
		d.capture.Unlock()
		d.loop.join()
		d.capture.UnlockStop()
	}
	d.loop.join()
	d.streamMu.Lock()

	if d.processing.Load() {
		panic("decoder: capture loop still processing after drain")
	}
	if errors.Is(err, ErrFlushing) {
		err = ignoreSourceChange(d.terminalResult())
	}
	log.Debug("%s: done draining buffers", d.device)
	return err
}

// A source change is handled on the next frame, it is not a failure.
func ignoreSourceChange(err error) error {
	if errors.Is(err, ErrSourceChanged) {
		return nil
	}
	return err
}

// clearFlushing drops a remembered ErrFlushing result, which only says the
// loop was stopped on purpose, and returns the remaining result.
func (d *Decoder) clearFlushing() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if errors.Is(d.result, ErrFlushing) {
		d.result = nil
	}
	return d.result
}

func (d *Decoder) terminalResult() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

func (d *Decoder) fatalError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

// noteError disables the decoder permanently if err is a device failure.
func (d *Decoder) noteError(err error) {
	if !isFatal(err) {
		return
	}
	log.Error("%s: %v", d.device, err)

	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
	}
	d.active.Store(false)
	d.mu.Unlock()
}

func (d *Decoder) latency() time.Duration {
	var rate Fraction
	if d.input != nil {
		rate = d.input.desc.FrameRate
	}
	return time.Duration(d.capture.MinBuffers()) * d.cfg.frameDuration(rate)
}

// Latency is the delay the device introduces: the minimum number of capture
// buffers times the frame duration.
func (d *Decoder) Latency() time.Duration {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	return d.latency()
}

// Device returns the device path.
func (d *Decoder) Device() string {
	return d.device
}

// InputFormats returns the compressed formats the decoder accepts.
func (d *Decoder) InputFormats() []PixelFormat {
	return append([]PixelFormat(nil), d.neg.codecs...)
}

// OutputFormats returns the raw formats the decoder may produce.
func (d *Decoder) OutputFormats() []PixelFormat {
	return append([]PixelFormat(nil), d.neg.raw...)
}

// OutputState returns the negotiated output, or nil before the first frame.
func (d *Decoder) OutputState() *OutputState {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	return d.outState
}

// Active reports whether the decoder accepts frames.
func (d *Decoder) Active() bool {
	return d.active.Load()
}

// Processing reports whether the capture loop is running.
func (d *Decoder) Processing() bool {
	return d.processing.Load()
}

// LoopState returns the state of the capture loop.
func (d *Decoder) LoopState() LoopState {
	return LoopState(d.loopState.Load())
}

// Err returns the device failure that disabled the decoder, if any.
func (d *Decoder) Err() error {
	return d.fatalError()
}

// Stats returns a snapshot of the frame counters, including the number of
// frames waiting for output.
func (d *Decoder) Stats() StatsSnapshot {
	s := d.stats.snapshot()
	s.Pending = d.pending.Len()
	return s
}
