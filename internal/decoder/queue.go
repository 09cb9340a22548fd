package decoder

// Direction identifies one of the two queues of a memory-to-memory device.
// The names follow the device's point of view.
type Direction int

const (
	// Output carries compressed input into the device.
	Output Direction = iota
	// Capture carries decoded frames out of the device.
	Capture
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "capture"
}

// Buffer is a filled buffer dequeued from a device queue. The data is owned
// by the caller. A zero length buffer dequeued from the capture queue means
// the device has no more output until it is restarted.
type Buffer struct {
	Data []byte

	// Device sequence counter, informational only.
	Sequence uint32
}

// Queue is one buffered queue of a decoding device. Implementations must be
// safe for one producer and one consumer goroutine running concurrently with
// Unlock/UnlockStop calls from a third.
type Queue interface {
	Direction() Direction

	// ProbeFormats enumerates the pixel formats currently offered by the
	// device on this queue.
	ProbeFormats() ([]PixelFormat, error)

	// CurrentFormat reads the format configured on the device. On the
	// capture queue this reports the decoded geometry once the device has
	// parsed the stream headers.
	CurrentFormat() (Format, error)

	// SetFormat configures the queue and returns the format the device
	// actually applied. Buffers are allocated lazily.
	SetFormat(f Format) (Format, error)

	// IsActive reports whether a format is configured.
	IsActive() bool

	// MinBuffers is the number of buffers the device holds before producing
	// output. Meaningful on the capture queue only.
	MinBuffers() int

	// Start allocates buffers if needed and starts streaming.
	Start() error

	// Stop stops streaming, releases all buffers and forgets the format.
	Stop() error

	// Flush drops in-flight buffers. The queue stays started.
	Flush() error

	// Unlock makes pending and future Enqueue/Dequeue calls return
	// ErrFlushing until UnlockStop is called. It never releases buffers and
	// may be called at any time.
	Unlock()
	UnlockStop()

	// Enqueue copies p into a free device buffer and queues it, blocking
	// until a buffer is available. An empty p asks the device to drain.
	Enqueue(p []byte) error

	// Dequeue blocks until the device returns a filled buffer. On the capture
	// queue it returns ErrSourceChanged when output ended without a drain
	// request because the stream parameters changed.
	Dequeue() (*Buffer, error)

	Close() error
}

// Device opens the queues of one memory-to-memory decoding device.
type Device interface {
	Path() string
	OpenQueue(dir Direction) (Queue, error)
}

// Sink receives the decoder output.
type Sink interface {
	// SetOutputState announces the negotiated raw format. An error rejects
	// the format; ErrFlushing means downstream is flushing.
	SetOutputState(state *OutputState) error

	// PushFrame delivers one decoded frame. It is called from the capture
	// goroutine.
	PushFrame(frame *DecodedFrame) error
}
