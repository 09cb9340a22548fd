//go:build linux && (amd64 || arm64)

package v4l2

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	errors "golang.org/x/xerrors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohadec/internal/decoder"
)

// One memory-mapped kernel buffer.
type mmapBuffer struct {
	index  uint32
	data   []byte
	queued bool
}

// queue is one of the two buffer queues of a Device. Blocking waits poll the
// device together with an eventfd; writing to the eventfd is how Unlock
// interrupts them.
type queue struct {
	dev *Device
	dir decoder.Direction
	typ uint32

	// Interrupts blocking waits while flushing is set.
	unlockFd int
	flushing atomic.Bool

	// Capture side of a drain: eos is set once the device returned its last
	// buffer, drained once the end was reported. Decoding resumes with the
	// next input, which is signaled through resumeFd.
	eos      atomic.Bool
	drained  atomic.Bool
	resumeFd int

	// A stop command was sent on the output queue and decoding was not
	// restarted since.
	stopped atomic.Bool

	// Guards everything below. Released while waiting.
	mu        sync.Mutex
	format    *decoder.Format
	buffers   []*mmapBuffer
	streaming bool
}

func newQueue(dev *Device, dir decoder.Direction) (*queue, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, &decoder.DeviceError{Device: dev.path, Op: "eventfd", Err: err}
	}
	rfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, &decoder.DeviceError{Device: dev.path, Op: "eventfd", Err: err}
	}
	q := &queue{
		dev:      dev,
		dir:      dir,
		typ:      V4L2_BUF_TYPE_VIDEO_OUTPUT,
		unlockFd: efd,
		resumeFd: rfd,
	}
	if dir == decoder.Capture {
		q.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	}
	return q, nil
}

func (q *queue) Direction() decoder.Direction {
	return q.dir
}

func (q *queue) ProbeFormats() ([]decoder.PixelFormat, error) {
	return q.dev.enumFormats(q.typ)
}

func (q *queue) CurrentFormat() (decoder.Format, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Until the driver parsed the header, the capture format holds defaults.
	if q.dir == decoder.Capture && q.dev.sourceEvents {
		q.dev.waitSourceChange()
	}
	f, err := q.getFormat()
	if err != nil {
		return decoder.Format{}, err
	}
	if q.dir == decoder.Capture && !q.dev.sourceEvents && (f.Width == 0 || f.Height == 0) {
		q.dev.waitSourceChange()
		if f, err = q.getFormat(); err != nil {
			return decoder.Format{}, err
		}
	}
	if f.Width == 0 || f.Height == 0 {
		return decoder.Format{}, errors.Errorf("%s: %s geometry unknown", q.dev.path, q.dir)
	}
	return f, nil
}

func (q *queue) getFormat() (decoder.Format, error) {
	vf := v4l2_format{typ: q.typ}
	if err := q.dev.ioctl("VIDIOC_G_FMT", VIDIOC_G_FMT, unsafe.Pointer(&vf)); err != nil {
		return decoder.Format{}, err
	}
	return toFormat(vf.pix()), nil
}

func toFormat(pix *v4l2_pix_format) decoder.Format {
	return decoder.Format{
		PixelFormat: decoder.PixelFormat(pix.pixelformat),
		Width:       int(pix.width),
		Height:      int(pix.height),
		Interlace:   interlaceMode(pix.field),
		SizeImage:   int(pix.sizeimage),
	}
}

func (q *queue) SetFormat(f decoder.Format) (decoder.Format, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buffers != nil {
		q.release()
	}

	vf := v4l2_format{typ: q.typ}
	pix := vf.pix()
	pix.width = uint32(f.Width)
	pix.height = uint32(f.Height)
	pix.pixelformat = uint32(f.PixelFormat)
	pix.field = V4L2_FIELD_ANY
	if q.dir == decoder.Output {
		pix.field = V4L2_FIELD_NONE
		pix.sizeimage = uint32(q.dev.cfg.OutputBufferSize)
	}
	if err := q.dev.ioctl("VIDIOC_S_FMT", VIDIOC_S_FMT, unsafe.Pointer(&vf)); err != nil {
		return decoder.Format{}, err
	}

	applied := toFormat(pix)
	if applied.PixelFormat != f.PixelFormat {
		return decoder.Format{}, &decoder.DeviceError{
			Device: q.dev.path,
			Op:     "VIDIOC_S_FMT",
			Err:    errors.Errorf("%s format %v replaced by %v", q.dir, f.PixelFormat, applied.PixelFormat),
		}
	}
	log.Debug("%s: %s format %v", q.dev.path, q.dir, applied)
	q.format = &applied
	return applied, nil
}

func (q *queue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.format != nil
}

func (q *queue) MinBuffers() int {
	ctrl := v4l2_control{id: V4L2_CID_MIN_BUFFERS_FOR_CAPTURE}
	if err := q.dev.ioctl("VIDIOC_G_CTRL", VIDIOC_G_CTRL, unsafe.Pointer(&ctrl)); err != nil || ctrl.value < 1 {
		return 1
	}
	return int(ctrl.value)
}

// Request buffers and map them into memory. Called with mu held.
func (q *queue) allocate() error {
	count := q.dev.cfg.OutputBuffers
	if q.dir == decoder.Capture {
		count = q.MinBuffers() + q.dev.cfg.ExtraCaptureBuffers
	}

	rb := v4l2_requestbuffers{
		count:  uint32(count),
		typ:    q.typ,
		memory: V4L2_MEMORY_MMAP,
	}
	if err := q.dev.ioctl("VIDIOC_REQBUFS", VIDIOC_REQBUFS, unsafe.Pointer(&rb)); err != nil {
		return err
	}
	log.Debug("%s: %d %s buffers", q.dev.path, rb.count, q.dir)

	for i := uint32(0); i < rb.count; i++ {
		qb := v4l2_buffer{
			index:  i,
			typ:    q.typ,
			memory: V4L2_MEMORY_MMAP,
		}
		if err := q.dev.ioctl("VIDIOC_QUERYBUF", VIDIOC_QUERYBUF, unsafe.Pointer(&qb)); err != nil {
			q.release()
			return err
		}
		data, err := unix.Mmap(
			q.dev.fd,
			int64(qb.offset()),
			int(qb.length),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED,
		)
		if err != nil {
			q.release()
			return &decoder.DeviceError{Device: q.dev.path, Op: "mmap", Err: err}
		}
		q.buffers = append(q.buffers, &mmapBuffer{index: i, data: data})
	}
	return nil
}

// Unmap and free all buffers. Called with mu held.
func (q *queue) release() {
	for _, b := range q.buffers {
		if err := unix.Munmap(b.data); err != nil {
			log.Warn("%s: munmap: %v", q.dev.path, err)
		}
	}
	q.buffers = nil

	rb := v4l2_requestbuffers{typ: q.typ, memory: V4L2_MEMORY_MMAP}
	if err := q.dev.ioctl("VIDIOC_REQBUFS", VIDIOC_REQBUFS, unsafe.Pointer(&rb)); err != nil {
		log.Warn("%s: freeing %s buffers: %v", q.dev.path, q.dir, err)
	}
}

// Called with mu held.
func (q *queue) queueBuffer(b *mmapBuffer, bytesused int) error {
	qb := v4l2_buffer{
		index:     b.index,
		typ:       q.typ,
		memory:    V4L2_MEMORY_MMAP,
		bytesused: uint32(bytesused),
	}
	if err := q.dev.ioctl("VIDIOC_QBUF", VIDIOC_QBUF, unsafe.Pointer(&qb)); err != nil {
		return err
	}
	b.queued = true
	return nil
}

func (q *queue) streamOn() error {
	typ := q.typ
	if err := q.dev.ioctl("VIDIOC_STREAMON", VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		return err
	}
	q.streaming = true
	return nil
}

// Disable stream, which dequeues any outstanding buffers as well.
func (q *queue) streamOff() error {
	typ := q.typ
	err := q.dev.ioctl("VIDIOC_STREAMOFF", VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
	q.streaming = false
	for _, b := range q.buffers {
		b.queued = false
	}
	return err
}

// Start allocates buffers and starts streaming. The capture queue hands all
// its buffers to the device.
func (q *queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.start()
}

func (q *queue) start() error {
	if q.streaming {
		return nil
	}
	if q.format == nil {
		return &decoder.DeviceError{Device: q.dev.path, Op: "VIDIOC_STREAMON", Err: unix.EINVAL}
	}
	if q.buffers == nil {
		if err := q.allocate(); err != nil {
			return err
		}
	}
	if q.dir == decoder.Capture {
		for _, b := range q.buffers {
			if err := q.queueBuffer(b, 0); err != nil {
				return err
			}
		}
	}
	return q.streamOn()
}

func (q *queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	if q.streaming {
		err = q.streamOff()
	}
	if q.buffers != nil {
		q.release()
	}
	q.format = nil
	q.resetDrain()
	return err
}

func (q *queue) resetDrain() {
	q.stopped.Store(false)
	q.eos.Store(false)
	q.drained.Store(false)
	readEventfd(q.resumeFd)
}

// Flush drops in-flight buffers by restarting the stream.
func (q *queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resetDrain()
	if !q.streaming {
		return nil
	}
	if err := q.streamOff(); err != nil {
		return err
	}
	return q.start()
}

func (q *queue) Unlock() {
	q.flushing.Store(true)
	if err := writeEventfd(q.unlockFd); err != nil {
		log.Warn("%s: unlocking %s queue: %v", q.dev.path, q.dir, err)
	}
}

func (q *queue) UnlockStop() {
	q.flushing.Store(false)
	readEventfd(q.unlockFd)
}

// resume wakes a capture queue waiting after a drain.
func (q *queue) resume() {
	q.eos.Store(false)
	q.drained.Store(false)
	if err := writeEventfd(q.resumeFd); err != nil {
		log.Warn("%s: resuming %s queue: %v", q.dev.path, q.dir, err)
	}
}

func writeEventfd(fd int) error {
	var one [8]byte
	nativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(fd, one[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Resets the eventfd counter.
func readEventfd(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}

// wait polls the device for events until they occur or the queue is
// unlocked. Called with mu held, which is released while waiting.
func (q *queue) wait(events int16) error {
	fds := []unix.PollFd{
		{Fd: int32(q.dev.fd), Events: events},
		{Fd: int32(q.unlockFd), Events: unix.POLLIN},
	}

	q.mu.Unlock()
	defer q.mu.Lock()

	for {
		if q.flushing.Load() {
			return decoder.ErrFlushing
		}
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return &decoder.DeviceError{Device: q.dev.path, Op: "poll", Err: err}
		}
		if fds[1].Revents&unix.POLLIN != 0 || q.flushing.Load() {
			return decoder.ErrFlushing
		}
		if fds[0].Revents&unix.POLLERR != 0 {
			return &decoder.DeviceError{Device: q.dev.path, Op: "poll " + q.dir.String(), Err: unix.EIO}
		}
		if fds[0].Revents&events != 0 {
			return nil
		}
	}
}

// reclaim takes back output buffers the device has consumed, without
// blocking. Called with mu held.
func (q *queue) reclaim() error {
	for {
		qb := v4l2_buffer{typ: q.typ, memory: V4L2_MEMORY_MMAP}
		err := q.dev.ioctl("VIDIOC_DQBUF", VIDIOC_DQBUF, unsafe.Pointer(&qb))
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return err
		}
		if int(qb.index) < len(q.buffers) {
			q.buffers[qb.index].queued = false
		}
	}
}

// Called with mu held.
func (q *queue) freeBuffer() *mmapBuffer {
	for _, b := range q.buffers {
		if !b.queued {
			return b
		}
	}
	return nil
}

// Enqueue copies p into a free output buffer. An empty p asks the device to
// drain: the first request sends a stop command, later ones block until the
// queue is unlocked.
func (q *queue) Enqueue(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing.Load() {
		return decoder.ErrFlushing
	}
	if q.dir != decoder.Output {
		return &decoder.DeviceError{Device: q.dev.path, Op: "VIDIOC_QBUF", Err: unix.EINVAL}
	}
	if len(p) == 0 {
		return q.drain()
	}

	if q.stopped.Load() {
		if err := q.decoderCommand(V4L2_DEC_CMD_START); err != nil {
			log.Debug("%s: restarting decoder: %v", q.dev.path, err)
		}
		q.stopped.Store(false)
		q.dev.resumed()
	}
	if err := q.start(); err != nil {
		return err
	}

	b, err := q.waitFreeBuffer()
	if err != nil {
		return err
	}
	if len(p) > len(b.data) {
		return decoder.ErrQueueFull
	}
	n := copy(b.data, p)
	log.Trace(5, "%s: queuing %d bytes in output buffer %d", q.dev.path, n, b.index)
	return q.queueBuffer(b, n)
}

// waitFreeBuffer takes back consumed output buffers until one is free,
// blocking while the device holds all of them. Called with mu held.
func (q *queue) waitFreeBuffer() (*mmapBuffer, error) {
	for {
		if err := q.reclaim(); err != nil {
			return nil, err
		}
		if b := q.freeBuffer(); b != nil {
			return b, nil
		}
		if err := q.wait(unix.POLLOUT); err != nil {
			return nil, err
		}
		if !q.streaming {
			// Stopped while waiting.
			return nil, decoder.ErrFlushing
		}
	}
}

// Called with mu held.
func (q *queue) drain() error {
	if q.streaming && !q.stopped.Load() {
		// Set first: the capture side may see the last buffer before the
		// command returns, and must not take it for a source change.
		q.stopped.Store(true)
		if err := q.requestStop(); err != nil {
			q.stopped.Store(false)
			return err
		}
	}

	// Nothing to do until the capture side has seen the last buffer.
	fds := []unix.PollFd{{Fd: int32(q.unlockFd), Events: unix.POLLIN}}
	q.mu.Unlock()
	defer q.mu.Lock()
	for !q.flushing.Load() {
		if _, err := unix.Poll(fds, -1); err != nil && err != unix.EINTR {
			return &decoder.DeviceError{Device: q.dev.path, Op: "poll", Err: err}
		}
	}
	return decoder.ErrFlushing
}

// requestStop asks the device to finish decoding. Called with mu held.
func (q *queue) requestStop() error {
	err := q.decoderCommand(V4L2_DEC_CMD_STOP)
	if err == nil {
		return nil
	}

	// Drivers without decoder commands take an empty buffer.
	log.Debug("%s: stop command: %v, queuing empty buffer", q.dev.path, err)
	b, err := q.waitFreeBuffer()
	if err != nil {
		return err
	}
	return q.queueBuffer(b, 0)
}

func (q *queue) decoderCommand(cmd uint32) error {
	dc := v4l2_decoder_cmd{cmd: cmd}
	return q.dev.ioctl("VIDIOC_DECODER_CMD", VIDIOC_DECODER_CMD, unsafe.Pointer(&dc))
}

// Dequeue waits for a decoded buffer, copies it out and gives the buffer back
// to the device. The end of a drain is reported once as an empty buffer; after
// that Dequeue waits until decoding resumes. A last buffer without a drain
// request is reported as ErrSourceChanged.
func (q *queue) Dequeue() (*decoder.Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dir != decoder.Capture {
		return nil, &decoder.DeviceError{Device: q.dev.path, Op: "VIDIOC_DQBUF", Err: unix.EINVAL}
	}

	for {
		if q.flushing.Load() || !q.streaming {
			return nil, decoder.ErrFlushing
		}
		if q.drained.Load() {
			if err := q.waitResume(); err != nil {
				return nil, err
			}
			continue
		}
		if q.eos.Load() {
			q.eos.Store(false)
			if !q.dev.draining() {
				// Output ended on its own, the stream parameters changed.
				// Nothing more comes until the queue is set up again.
				return nil, decoder.ErrSourceChanged
			}
			q.drained.Store(true)
			return &decoder.Buffer{}, nil
		}

		qb := v4l2_buffer{typ: q.typ, memory: V4L2_MEMORY_MMAP}
		err := q.dev.ioctl("VIDIOC_DQBUF", VIDIOC_DQBUF, unsafe.Pointer(&qb))
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN):
			if err := q.wait(unix.POLLIN); err != nil {
				return nil, err
			}
			continue
		case errors.Is(err, unix.EPIPE):
			// Past the last buffer.
			q.eos.Store(true)
			continue
		default:
			return nil, err
		}

		if int(qb.index) >= len(q.buffers) {
			return nil, &decoder.DeviceError{Device: q.dev.path, Op: "VIDIOC_DQBUF", Err: unix.EINVAL}
		}
		b := q.buffers[qb.index]
		b.queued = false
		data := append([]byte(nil), b.data[:qb.bytesused]...)

		if qb.flags&V4L2_BUF_FLAG_LAST != 0 {
			log.Debug("%s: last buffer (%d bytes)", q.dev.path, qb.bytesused)
			q.eos.Store(true)
		}
		if err := q.queueBuffer(b, 0); err != nil {
			return nil, err
		}
		if len(data) == 0 {
			// Drivers without stop command answer the empty output buffer
			// with an empty capture buffer. Others may return empty buffers
			// while reconfiguring.
			if q.dev.draining() {
				q.eos.Store(true)
			}
			continue
		}
		return &decoder.Buffer{Data: data, Sequence: qb.sequence}, nil
	}
}

// waitResume blocks until the output side restarts decoding or the queue is
// unlocked. Called with mu held, which is released while waiting.
func (q *queue) waitResume() error {
	fds := []unix.PollFd{
		{Fd: int32(q.resumeFd), Events: unix.POLLIN},
		{Fd: int32(q.unlockFd), Events: unix.POLLIN},
	}

	q.mu.Unlock()
	defer q.mu.Lock()

	for q.drained.Load() {
		if q.flushing.Load() {
			return decoder.ErrFlushing
		}
		if _, err := unix.Poll(fds, -1); err != nil && err != unix.EINTR {
			return &decoder.DeviceError{Device: q.dev.path, Op: "poll", Err: err}
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			readEventfd(q.resumeFd)
		}
	}
	return nil
}

func (q *queue) Close() error {
	err := q.Stop()
	unix.Close(q.unlockFd)
	unix.Close(q.resumeFd)
	if e := q.dev.release(q); err == nil {
		err = e
	}
	return err
}
