//go:build linux && (amd64 || arm64)

package v4l2

import (
	"sync"
	"syscall"
	"unsafe"

	errors "golang.org/x/xerrors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohadec/internal/decoder"
)

// A V4L2 memory-to-memory decoding device. Both queues share one file
// descriptor, which is closed when the last queue is closed.
type Device struct {
	cfg Config

	// Device path, usually "/dev/videoN".
	path string

	// File descriptor of the v4l2 device, opened non-blocking.
	fd int

	caps v4l2_capability

	// The driver signals source changes.
	sourceEvents bool

	mu     sync.Mutex
	queues [2]*queue
	refs   int
}

// Open opens a V4L2 decoding device (e.g. /dev/video10).
func Open(path string, cfg Config) (*Device, error) {
	cfg.setDefaults()

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, &decoder.DeviceError{Device: path, Op: "open", Err: err}
	}

	dev := &Device{
		cfg:  cfg,
		path: path,
		fd:   fd,
	}
	if err := dev.ioctl("VIDIOC_QUERYCAP", VIDIOC_QUERYCAP, unsafe.Pointer(&dev.caps)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if !dev.isM2M() {
		unix.Close(fd)
		return nil, &decoder.DeviceError{
			Device: path,
			Op:     "open",
			Err:    errors.Errorf("%s is not a single-planar memory-to-memory device", cstring(dev.caps.card[:])),
		}
	}

	// Drivers report the decoded geometry through a source change event.
	// Older ones do not implement it.
	sub := v4l2_event_subscription{typ: V4L2_EVENT_SOURCE_CHANGE}
	if err := dev.ioctl("VIDIOC_SUBSCRIBE_EVENT", VIDIOC_SUBSCRIBE_EVENT, unsafe.Pointer(&sub)); err != nil {
		log.Debug("%s: no source change events: %v", path, err)
	} else {
		dev.sourceEvents = true
	}

	log.Debug("opened %s: %s (%s)", path, cstring(dev.caps.card[:]), cstring(dev.caps.driver[:]))
	return dev, nil
}

func (dev *Device) isM2M() bool {
	caps := dev.caps.capabilities
	if caps&V4L2_CAP_DEVICE_CAPS != 0 {
		caps = dev.caps.device_caps
	}
	return caps&V4L2_CAP_VIDEO_M2M != 0 && caps&V4L2_CAP_STREAMING != 0
}

func (dev *Device) Path() string {
	return dev.path
}

func (dev *Device) Driver() string {
	return cstring(dev.caps.driver[:])
}

func (dev *Device) Card() string {
	return cstring(dev.caps.card[:])
}

// OpenQueue implements decoder.Device.
func (dev *Device) OpenQueue(dir decoder.Direction) (decoder.Queue, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.fd < 0 {
		return nil, &decoder.DeviceError{Device: dev.path, Op: "open " + dir.String(), Err: syscall.EBADF}
	}
	if dev.queues[dir] != nil {
		return nil, &decoder.DeviceError{Device: dev.path, Op: "open " + dir.String(), Err: syscall.EBUSY}
	}

	q, err := newQueue(dev, dir)
	if err != nil {
		return nil, err
	}
	dev.queues[dir] = q
	dev.refs++
	return q, nil
}

// release drops a queue and closes the device with the last one.
func (dev *Device) release(q *queue) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.queues[q.dir] != q {
		return nil
	}
	dev.queues[q.dir] = nil
	dev.refs--
	if dev.refs > 0 {
		return nil
	}
	return dev.closeLocked()
}

// Close closes the device. Queues still open fail from then on.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closeLocked()
}

func (dev *Device) closeLocked() error {
	if dev.fd < 0 {
		return nil
	}
	log.Debug("closing %s", dev.path)
	err := unix.Close(dev.fd)
	dev.fd = -1
	return err
}

// resumed is called by the output queue when decoding restarts after a
// drain.
func (dev *Device) resumed() {
	dev.mu.Lock()
	q := dev.queues[decoder.Capture]
	dev.mu.Unlock()

	if q != nil {
		q.resume()
	}
}

// draining reports whether a drain was requested on the output queue.
func (dev *Device) draining() bool {
	dev.mu.Lock()
	q := dev.queues[decoder.Output]
	dev.mu.Unlock()

	return q != nil && q.stopped.Load()
}

func (dev *Device) ioctl(op string, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(
			unix.SYS_IOCTL,
			uintptr(dev.fd),
			request,
			uintptr(arg),
		)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return &decoder.DeviceError{Device: dev.path, Op: op, Err: errno}
		}
	}
}

// enumFormats lists the pixel formats offered for a buffer type.
func (dev *Device) enumFormats(typ uint32) ([]decoder.PixelFormat, error) {
	var formats []decoder.PixelFormat
	for i := uint32(0); ; i++ {
		desc := v4l2_fmtdesc{index: i, typ: typ}
		err := dev.ioctl("VIDIOC_ENUM_FMT", VIDIOC_ENUM_FMT, unsafe.Pointer(&desc))
		if errors.Is(err, unix.EINVAL) {
			break
		}
		if err != nil {
			return nil, err
		}
		log.Trace(3, "%s: format %d %q %v", dev.path, i, cstring(desc.description[:]), decoder.PixelFormat(desc.pixelformat))
		formats = append(formats, decoder.PixelFormat(desc.pixelformat))
	}
	return formats, nil
}

// Capabilities probes the formats supported by the device.
func (dev *Device) Capabilities() (*Capabilities, error) {
	in, err := dev.enumFormats(V4L2_BUF_TYPE_VIDEO_OUTPUT)
	if err != nil {
		return nil, err
	}
	out, err := dev.enumFormats(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err != nil {
		return nil, err
	}
	return &Capabilities{
		Path:          dev.path,
		Driver:        dev.Driver(),
		Card:          dev.Card(),
		InputFormats:  in,
		OutputFormats: out,
	}, nil
}

// Probe opens path, reports its capabilities and closes it again.
func Probe(path string) (*Capabilities, error) {
	dev, err := Open(path, Config{})
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	return dev.Capabilities()
}

// waitSourceChange waits until the driver signals that it parsed the stream
// header, or until the timeout expires.
func (dev *Device) waitSourceChange() {
	timeout := int(dev.cfg.SourceChangeTimeout.Milliseconds())
	fds := []unix.PollFd{{Fd: int32(dev.fd), Events: unix.POLLPRI}}
	for {
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			log.Debug("%s: no source change event (%v)", dev.path, err)
			return
		}
		break
	}

	for {
		var ev v4l2_event
		if err := dev.ioctl("VIDIOC_DQEVENT", VIDIOC_DQEVENT, unsafe.Pointer(&ev)); err != nil {
			return
		}
		log.Debug("%s: event %d", dev.path, ev.typ)
		if ev.pending == 0 {
			return
		}
	}
}
