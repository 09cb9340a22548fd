//go:build linux && (amd64 || arm64)

package v4l2

import (
	"encoding/binary"
	"unsafe"
)

// https://github.com/torvalds/linux/blob/master/include/uapi/linux/videodev2.h

// Struct sizes must match the 64-bit kernel ABI. A mismatch fails to compile.
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2_capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_fmtdesc{}) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_pix_format{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_requestbuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_control{}) - 8]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_decoder_cmd{}) - 72]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_event_subscription{}) - 32]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2_event{}) - 136]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(v4l2_buffer{}.timestamp) - 24]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2_buffer{}.m) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2_format{}.fmt) - 8]struct{}{}
)

const (
	VIDIOC_QUERYCAP        = 0x80685600
	VIDIOC_ENUM_FMT        = 0xc0405602
	VIDIOC_G_FMT           = 0xc0d05604
	VIDIOC_S_FMT           = 0xc0d05605
	VIDIOC_REQBUFS         = 0xc0145608
	VIDIOC_QUERYBUF        = 0xc0585609
	VIDIOC_QBUF            = 0xc058560f
	VIDIOC_DQBUF           = 0xc0585611
	VIDIOC_STREAMON        = 0x40045612
	VIDIOC_STREAMOFF       = 0x40045613
	VIDIOC_G_CTRL          = 0xc008561b
	VIDIOC_DQEVENT         = 0x80885659
	VIDIOC_SUBSCRIBE_EVENT = 0x4020565a
	VIDIOC_DECODER_CMD     = 0xc0485660
	VIDIOC_TRY_DECODER_CMD = 0xc0485661
)

const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE = 1
	V4L2_BUF_TYPE_VIDEO_OUTPUT  = 2

	V4L2_MEMORY_MMAP = 1

	V4L2_FIELD_ANY  = 0
	V4L2_FIELD_NONE = 1

	V4L2_FMT_FLAG_COMPRESSED = 0x0001

	V4L2_BUF_FLAG_LAST = 0x00100000

	V4L2_CAP_VIDEO_M2M_MPLANE = 0x00004000
	V4L2_CAP_VIDEO_M2M        = 0x00008000
	V4L2_CAP_STREAMING        = 0x04000000
	V4L2_CAP_DEVICE_CAPS      = 0x80000000

	V4L2_DEC_CMD_START = 0
	V4L2_DEC_CMD_STOP  = 1

	V4L2_EVENT_EOS           = 2
	V4L2_EVENT_SOURCE_CHANGE = 5

	V4L2_CID_MIN_BUFFERS_FOR_CAPTURE = 0x00980927
)

type v4l2_capability struct {
	driver       [16]byte
	card         [32]byte
	bus_info     [32]byte
	version      uint32
	capabilities uint32
	device_caps  uint32
	reserved     [3]uint32
}

type v4l2_fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbus_code   uint32
	reserved    [3]uint32
}

type v4l2_pix_format struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcr_enc    uint32
	quantization uint32
	xfer_func    uint32
}

// The format union contains pointers, which aligns it to 8 bytes.
type v4l2_format struct {
	typ uint32
	_   [4]byte
	fmt [200]byte
}

func (f *v4l2_format) pix() *v4l2_pix_format {
	return (*v4l2_pix_format)(unsafe.Pointer(&f.fmt[0]))
}

type v4l2_requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2_timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2_buffer struct {
	index     uint32        // 0
	typ       uint32        // 4
	bytesused uint32        // 8
	flags     uint32        // 12
	field     uint32        // 16
	_         [4]byte       // 20
	timestamp [2]int64      // 24, struct timeval
	timecode  v4l2_timecode // 40
	sequence  uint32        // 56
	memory    uint32        // 60
	m         uint64        // 64, union; offset for MMAP
	length    uint32        // 72
	reserved2 uint32        // 76
	request   uint32        // 80
	_         [4]byte       // 84
}

func (b *v4l2_buffer) offset() uint32 {
	return uint32(b.m)
}

type v4l2_control struct {
	id    uint32
	value int32
}

type v4l2_decoder_cmd struct {
	cmd   uint32
	flags uint32
	raw   [16]uint32
}

type v4l2_event_subscription struct {
	typ      uint32
	id       uint32
	flags    uint32
	reserved [5]uint32
}

type v4l2_event struct {
	typ       uint32
	_         [4]byte
	u         [64]byte
	pending   uint32
	sequence  uint32
	timestamp [2]int64
	id        uint32
	reserved  [8]uint32
}

var nativeEndian binary.ByteOrder

func init() {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		nativeEndian = binary.LittleEndian
	} else {
		nativeEndian = binary.BigEndian
	}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
