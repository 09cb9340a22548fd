// Package simdev simulates a stateful memory-to-memory decoding device. It
// behaves like a V4L2 decoder as seen through decoder.Queue: the first buffer
// queued on the output side reveals the decoded geometry, every picture
// produces one decoded buffer, an empty buffer requests end of stream, and
// both queues block until unlocked.
//
// Decoding echoes the compressed access unit, which keeps tests able to check
// what went where.
package simdev

import (
	"fmt"
	"sync"
	"syscall"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/h264"
	"github.com/lanikai/alohadec/internal/logging"
)

var log = logging.DefaultLogger.WithTag("simdev")

type Config struct {
	Path string

	InputFormats  []decoder.PixelFormat
	OutputFormats []decoder.PixelFormat

	// Format the capture queue reports before negotiation. Defaults to the
	// first output format.
	PreferredOutput decoder.PixelFormat

	// Capture formats refused by SetFormat although they are enumerated.
	RejectOutputFormats []decoder.PixelFormat

	// Decoded geometry.
	Width, Height int
	Interlace     decoder.InterlaceMode

	// Number of decoded buffers the capture queue holds. The output queue
	// blocks while they are all filled.
	CaptureBuffers int

	// Reported as the minimum number of capture buffers.
	MinBuffers int

	// Largest payload the output queue accepts.
	OutputBufferSize int

	// Number of decoded pictures the device keeps back until later input
	// arrives, like a reordering buffer. They are released on drain.
	ReorderDepth int

	// Dequeue fails with an I/O error once this many pictures were decoded.
	// Zero disables the fault.
	FailAfter int

	// After this many pictures the stream switches to ResizeWidth by
	// ResizeHeight. The device finishes the pictures before the switch, ends
	// its output without a drain request and refuses further input until it
	// is restarted. Zero disables the switch.
	ResizeAfter               int
	ResizeWidth, ResizeHeight int
}

func (cfg *Config) setDefaults() {
	if cfg.Path == "" {
		cfg.Path = "sim:0"
	}
	if len(cfg.InputFormats) == 0 {
		cfg.InputFormats = []decoder.PixelFormat{decoder.H264}
	}
	if cfg.OutputFormats == nil {
		cfg.OutputFormats = []decoder.PixelFormat{decoder.NV12, decoder.I420}
	}
	if cfg.PreferredOutput == 0 && len(cfg.OutputFormats) > 0 {
		cfg.PreferredOutput = cfg.OutputFormats[0]
	}
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Height <= 0 {
		cfg.Height = 240
	}
	if cfg.ResizeWidth <= 0 {
		cfg.ResizeWidth = cfg.Width
	}
	if cfg.ResizeHeight <= 0 {
		cfg.ResizeHeight = cfg.Height
	}
	if cfg.CaptureBuffers <= 0 {
		cfg.CaptureBuffers = 4
	}
	if cfg.MinBuffers <= 0 {
		cfg.MinBuffers = 2
	}
	if cfg.OutputBufferSize <= 0 {
		cfg.OutputBufferSize = 1 << 20
	}
}

// Device is a simulated decoder. All state is guarded by mu; waiters sleep on
// the changed channel, which is closed and replaced on every state change.
type Device struct {
	cfg Config

	mu      sync.Mutex
	changed chan struct{}

	queues [2]*queue

	// The device has parsed a stream header and knows the geometry.
	headerSeen bool

	// A drain was requested and no new input arrived since.
	stopRequested bool

	// Decoded pictures held back by the reordering buffer.
	held [][]byte

	// Decoded buffers produced before the capture queue was streaming.
	backlog [][]byte

	// Decoded buffers waiting to be dequeued.
	ready [][]byte

	// Output ended because the geometry changed.
	sourceChanged bool
	resized       bool
	pictures      int

	decoded  int
	sequence uint32
	received [][]byte
}

func New(cfg Config) *Device {
	cfg.setDefaults()
	return &Device{
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

func (d *Device) Path() string {
	return d.cfg.Path
}

func (d *Device) OpenQueue(dir decoder.Direction) (decoder.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queues[dir] != nil && !d.queues[dir].closed {
		return nil, &decoder.DeviceError{Device: d.cfg.Path, Op: "open " + dir.String(), Err: syscall.EBUSY}
	}
	q := &queue{dev: d, dir: dir}
	d.queues[dir] = q
	return q, nil
}

// Received returns a copy of every buffer queued on the output side so far,
// including headers and empty drain requests.
func (d *Device) Received() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.received...)
}

// InjectOutput makes the device produce a decoded buffer that matches no
// input, as a misbehaving driver would.
func (d *Device) InjectOutput(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(append([]byte(nil), p...))
}

// Decoded returns the number of pictures handed to the capture side.
func (d *Device) Decoded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded
}

// Streaming reports whether the queue for dir is streaming.
func (d *Device) Streaming(dir decoder.Direction) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[dir]
	return q != nil && q.streaming
}

// Called with mu held.
func (d *Device) broadcast() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Called with mu held.
func (d *Device) captureStreaming() bool {
	q := d.queues[decoder.Capture]
	return q != nil && q.streaming
}

// emit appends a decoded buffer to the capture side. Called with mu held.
func (d *Device) emit(p []byte) {
	if d.captureStreaming() {
		d.ready = append(d.ready, p)
	} else {
		d.backlog = append(d.backlog, p)
	}
	d.broadcast()
}

// decode turns one compressed buffer into zero or one decoded buffer.
func (d *Device) decode(q *queue, p []byte) []byte {
	if q.format.PixelFormat == decoder.H264 && !h264.HasPicture(p) {
		// Parameter sets only.
		return nil
	}
	return append([]byte(nil), p...)
}

// resize switches to the new geometry once the pictures decoded so far are
// out. Called with mu held.
func (d *Device) resize() {
	log.Debug("%s: source change to %dx%d", d.cfg.Path, d.cfg.ResizeWidth, d.cfg.ResizeHeight)
	for _, p := range d.held {
		d.emit(p)
	}
	d.held = nil
	d.cfg.Width, d.cfg.Height = d.cfg.ResizeWidth, d.cfg.ResizeHeight
	d.resized = true
	d.sourceChanged = true
	d.broadcast()
}

type queue struct {
	dev *Device
	dir decoder.Direction

	format    *decoder.Format
	streaming bool
	flushing  bool
	closed    bool
}

func (q *queue) deviceError(op string, err error) error {
	return &decoder.DeviceError{Device: q.dev.cfg.Path, Op: fmt.Sprintf("%s %s", q.dir, op), Err: err}
}

// wait blocks until cond holds or the queue is unlocked. Called with mu held,
// returns with mu held.
func (q *queue) wait(cond func() bool) error {
	d := q.dev
	for {
		if q.flushing {
			return decoder.ErrFlushing
		}
		if cond() {
			return nil
		}
		ch := d.changed
		d.mu.Unlock()
		<-ch
		d.mu.Lock()
	}
}

func (q *queue) Direction() decoder.Direction {
	return q.dir
}

func (q *queue) ProbeFormats() ([]decoder.PixelFormat, error) {
	if q.dir == decoder.Output {
		return append([]decoder.PixelFormat(nil), q.dev.cfg.InputFormats...), nil
	}
	return append([]decoder.PixelFormat(nil), q.dev.cfg.OutputFormats...), nil
}

func (q *queue) CurrentFormat() (decoder.Format, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.dir == decoder.Output {
		if q.format == nil {
			return decoder.Format{}, q.deviceError("G_FMT", syscall.EINVAL)
		}
		return *q.format, nil
	}

	if !d.headerSeen {
		return decoder.Format{}, errors.New("simdev: decoded geometry not known yet")
	}
	f := decoder.Format{
		PixelFormat: d.cfg.PreferredOutput,
		Width:       d.cfg.Width,
		Height:      d.cfg.Height,
		Interlace:   d.cfg.Interlace,
	}
	if q.format != nil {
		f.PixelFormat = q.format.PixelFormat
	}
	f.SizeImage = f.Width * f.Height * 3 / 2
	return f, nil
}

func (q *queue) SetFormat(f decoder.Format) (decoder.Format, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	supported := d.cfg.InputFormats
	if q.dir == decoder.Capture {
		supported = d.cfg.OutputFormats
		for _, r := range d.cfg.RejectOutputFormats {
			if r == f.PixelFormat {
				return decoder.Format{}, q.deviceError("S_FMT", syscall.EINVAL)
			}
		}
	}
	ok := false
	for _, s := range supported {
		ok = ok || s == f.PixelFormat
	}
	if !ok {
		return decoder.Format{}, q.deviceError("S_FMT", syscall.EINVAL)
	}

	if q.dir == decoder.Capture {
		f.Width, f.Height, f.Interlace = d.cfg.Width, d.cfg.Height, d.cfg.Interlace
		f.SizeImage = f.Width * f.Height * 3 / 2
	} else {
		f.SizeImage = d.cfg.OutputBufferSize
	}
	q.format = &f
	log.Debug("%s: %s format %v", d.cfg.Path, q.dir, f)
	return f, nil
}

func (q *queue) IsActive() bool {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.format != nil
}

func (q *queue) MinBuffers() int {
	return q.dev.cfg.MinBuffers
}

func (q *queue) Start() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.format == nil {
		return q.deviceError("STREAMON", syscall.EINVAL)
	}
	q.streaming = true
	if q.dir == decoder.Capture {
		d.ready = append(d.ready, d.backlog...)
		d.backlog = nil
	}
	d.broadcast()
	return nil
}

func (q *queue) Stop() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	q.streaming = false
	q.format = nil
	if q.dir == decoder.Capture {
		d.ready = nil
		d.backlog = nil
		d.sourceChanged = false
	} else {
		d.headerSeen = false
		d.stopRequested = false
		d.held = nil
	}
	d.broadcast()
	return nil
}

func (q *queue) Flush() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.dir == decoder.Capture {
		d.ready = nil
		d.backlog = nil
	} else {
		d.held = nil
	}
	d.stopRequested = false
	d.broadcast()
	return nil
}

func (q *queue) Unlock() {
	d := q.dev
	d.mu.Lock()
	q.flushing = true
	d.broadcast()
	d.mu.Unlock()
}

func (q *queue) UnlockStop() {
	d := q.dev
	d.mu.Lock()
	q.flushing = false
	d.mu.Unlock()
}

func (q *queue) Enqueue(p []byte) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.dir != decoder.Output {
		return q.deviceError("QBUF", syscall.EINVAL)
	}
	if q.flushing {
		return decoder.ErrFlushing
	}
	if q.format == nil {
		return q.deviceError("QBUF", syscall.EINVAL)
	}
	if len(p) > d.cfg.OutputBufferSize {
		return decoder.ErrQueueFull
	}
	q.streaming = true
	d.received = append(d.received, append([]byte(nil), p...))

	if len(p) == 0 {
		// Drain: end the output once everything queued so far is out, then
		// hold the caller until it is released.
		if !d.stopRequested {
			d.stopRequested = true
			for _, p := range d.held {
				d.emit(p)
			}
			d.held = nil
			d.emit([]byte{})
		}
		return q.wait(func() bool { return false })
	}

	d.headerSeen = true
	d.stopRequested = false

	out := d.decode(q, p)
	if out == nil {
		return nil
	}
	if d.cfg.ResizeAfter > 0 && !d.resized && d.pictures >= d.cfg.ResizeAfter {
		d.resize()
		return q.wait(func() bool { return false })
	}
	d.pictures++
	d.held = append(d.held, out)
	if len(d.held) <= d.cfg.ReorderDepth {
		return nil
	}
	out = d.held[0]
	d.held = d.held[1:]

	err := q.wait(func() bool {
		return !d.captureStreaming() || len(d.ready) < d.cfg.CaptureBuffers
	})
	if err != nil {
		return err
	}
	d.emit(out)
	return nil
}

func (q *queue) Dequeue() (*decoder.Buffer, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.dir != decoder.Capture {
		return nil, q.deviceError("DQBUF", syscall.EINVAL)
	}
	if err := q.wait(func() bool { return len(d.ready) > 0 || d.sourceChanged }); err != nil {
		return nil, err
	}
	if len(d.ready) == 0 {
		d.sourceChanged = false
		return nil, decoder.ErrSourceChanged
	}
	if d.cfg.FailAfter > 0 && d.decoded >= d.cfg.FailAfter && len(d.ready[0]) > 0 {
		return nil, q.deviceError("DQBUF", syscall.EIO)
	}

	p := d.ready[0]
	d.ready[0] = nil
	d.ready = d.ready[1:]
	if len(p) > 0 {
		d.decoded++
	}
	d.sequence++
	d.broadcast()
	return &decoder.Buffer{Data: p, Sequence: d.sequence}, nil
}

func (q *queue) Close() error {
	d := q.dev
	d.mu.Lock()
	q.closed = true
	q.flushing = true
	q.streaming = false
	d.broadcast()
	d.mu.Unlock()
	return nil
}
