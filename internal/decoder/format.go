package decoder

import (
	"fmt"
	"strings"
	"time"

	errors "golang.org/x/xerrors"
)

// PixelFormat is a V4L2 four character code, describing either a compressed
// bitstream or a raw pixel layout.
type PixelFormat uint32

func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// Compressed formats.
var (
	H264  = FourCC('H', '2', '6', '4')
	HEVC  = FourCC('H', 'E', 'V', 'C')
	H263  = FourCC('H', '2', '6', '3')
	MPEG2 = FourCC('M', 'P', 'G', '2')
	MPEG4 = FourCC('M', 'P', 'G', '4')
	VP8   = FourCC('V', 'P', '8', '0')
	VP9   = FourCC('V', 'P', '9', '0')
	MJPEG = FourCC('M', 'J', 'P', 'G')
)

// Raw formats.
var (
	NV12  = FourCC('N', 'V', '1', '2')
	NV21  = FourCC('N', 'V', '2', '1')
	NV16  = FourCC('N', 'V', '1', '6')
	I420  = FourCC('Y', 'U', '1', '2')
	YV12  = FourCC('Y', 'V', '1', '2')
	YUYV  = FourCC('Y', 'U', 'Y', 'V')
	UYVY  = FourCC('U', 'Y', 'V', 'Y')
	RGB24 = FourCC('R', 'G', 'B', '3')
	BGR24 = FourCC('B', 'G', 'R', '3')
)

// CodecFormats lists every compressed format the decoder knows how to feed.
var CodecFormats = []PixelFormat{H264, HEVC, H263, MPEG2, MPEG4, VP8, VP9, MJPEG}

// RawFormats lists known raw layouts in default order of preference.
var RawFormats = []PixelFormat{NV12, I420, YV12, NV21, NV16, YUYV, UYVY, RGB24, BGR24}

var formatNames = map[PixelFormat]string{
	H264: "H264", HEVC: "HEVC", H263: "H263", MPEG2: "MPEG2", MPEG4: "MPEG4",
	VP8: "VP8", VP9: "VP9", MJPEG: "MJPEG",
	NV12: "NV12", NV21: "NV21", NV16: "NV16", I420: "I420", YV12: "YV12",
	YUYV: "YUY2", UYVY: "UYVY", RGB24: "RGB", BGR24: "BGR",
}

// ParsePixelFormat accepts a format name ("H264", "I420"), a media type
// ("video/x-h264") or a raw four character code ("YU12").
func ParsePixelFormat(s string) (PixelFormat, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "VIDEO/X-")
	switch name {
	case "AVC":
		return H264, nil
	case "H265":
		return HEVC, nil
	case "JPEG":
		return MJPEG, nil
	case "YUY2":
		return YUYV, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	if len(s) == 4 {
		return FourCC(s[0], s[1], s[2], s[3]), nil
	}
	return 0, errors.Errorf("unknown pixel format %q", s)
}

func contains(set []PixelFormat, f PixelFormat) bool {
	for _, x := range set {
		if x == f {
			return true
		}
	}
	return false
}

// intersect returns the members of preferred that are also in probed, keeping
// the order of preferred.
func intersect(preferred, probed []PixelFormat) []PixelFormat {
	var out []PixelFormat
	for _, f := range preferred {
		if contains(probed, f) && !contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

type InterlaceMode int

const (
	Progressive InterlaceMode = iota
	Interleaved
	Mixed
	Alternate
)

func (m InterlaceMode) String() string {
	switch m {
	case Progressive:
		return "progressive"
	case Interleaved:
		return "interleaved"
	case Mixed:
		return "mixed"
	case Alternate:
		return "alternate"
	default:
		return fmt.Sprintf("interlace(%d)", int(m))
	}
}

// Fraction is a frame rate, e.g. 30000/1001.
type Fraction struct {
	Num, Den int
}

// FrameDuration returns the duration of one frame, or zero if the rate is
// unknown.
func (f Fraction) FrameDuration() time.Duration {
	if f.Num <= 0 || f.Den <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(f.Den) / int64(f.Num))
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Format is the configuration of one device queue.
type Format struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	Interlace   InterlaceMode

	// Size in bytes of one buffer. Zero lets the device choose.
	SizeImage int
}

func (f Format) String() string {
	return fmt.Sprintf("%v %dx%d %v", f.PixelFormat, f.Width, f.Height, f.Interlace)
}

// StreamDescription describes the compressed stream pushed by upstream.
type StreamDescription struct {
	Codec     PixelFormat
	Width     int // Zero if unknown (byte-stream input)
	Height    int
	FrameRate Fraction

	// Out-of-band codec configuration, e.g. H.264 SPS/PPS in Annex-B form.
	CodecData []byte
}

// compatible reports whether desc can be decoded with the input queue
// configured for cur without touching the device.
func (desc *StreamDescription) compatible(cur *StreamDescription) bool {
	if desc.Codec != cur.Codec {
		return false
	}
	if desc.Width != 0 && desc.Width != cur.Width {
		return false
	}
	if desc.Height != 0 && desc.Height != cur.Height {
		return false
	}
	return true
}

// OutputState is announced downstream once the decoded format is known.
type OutputState struct {
	Format
	FrameRate Fraction

	// Number of frames the device holds before producing output, expressed
	// as time.
	Latency time.Duration
}
