package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errors "golang.org/x/xerrors"
)

func TestNegotiatorIntersection(t *testing.T) {
	cfg := &Config{RawFormats: []PixelFormat{I420, NV12}}
	n, err := newNegotiator("/dev/video10", []PixelFormat{H264, VP8}, []PixelFormat{NV12, YUYV, I420}, cfg)
	require.NoError(t, err)

	assert.Equal(t, []PixelFormat{H264, VP8}, n.codecs)
	assert.Equal(t, []PixelFormat{I420, NV12}, n.raw)
}

func TestNegotiatorEmptyInput(t *testing.T) {
	cfg := &Config{Codecs: []PixelFormat{HEVC}}
	_, err := newNegotiator("/dev/video10", []PixelFormat{H264}, []PixelFormat{NV12}, cfg)

	var negErr *NegotiationError
	require.True(t, errors.As(err, &negErr))
	assert.Equal(t, Output, negErr.Direction)
	assert.True(t, errors.Is(err, ErrNoSupportedInputFormat))
	assert.Contains(t, err.Error(), "/dev/video10")
}

func TestNegotiatorEmptyOutput(t *testing.T) {
	cfg := &Config{RawFormats: []PixelFormat{I420}}
	_, err := newNegotiator("/dev/video10", []PixelFormat{H264}, []PixelFormat{NV12}, cfg)

	var negErr *NegotiationError
	require.True(t, errors.As(err, &negErr))
	assert.Equal(t, Capture, negErr.Direction)
	assert.True(t, errors.Is(err, ErrNoSupportedOutputFormat))
}

func TestNegotiatorInputFormat(t *testing.T) {
	n, err := newNegotiator("dev", []PixelFormat{H264}, []PixelFormat{NV12}, &Config{})
	require.NoError(t, err)

	f, err := n.inputFormat(&StreamDescription{Codec: H264, Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Equal(t, Format{PixelFormat: H264, Width: 640, Height: 480}, f)

	_, err = n.inputFormat(&StreamDescription{Codec: VP9})
	assert.True(t, errors.Is(err, ErrNoSupportedInputFormat))
}

func TestNegotiatorOutputCandidates(t *testing.T) {
	cfg := &Config{RawFormats: []PixelFormat{I420, YV12, NV12}}
	n, err := newNegotiator("dev", []PixelFormat{H264}, []PixelFormat{NV12, I420, YV12}, cfg)
	require.NoError(t, err)

	// The device's own choice goes first.
	c, err := n.outputCandidates(Format{PixelFormat: NV12}, []PixelFormat{NV12, I420, YV12})
	require.NoError(t, err)
	assert.Equal(t, []PixelFormat{NV12, I420, YV12}, c)

	// Otherwise downstream preference order.
	c, err = n.outputCandidates(Format{PixelFormat: YUYV}, []PixelFormat{YV12, I420})
	require.NoError(t, err)
	assert.Equal(t, []PixelFormat{I420, YV12}, c)

	_, err = n.outputCandidates(Format{PixelFormat: YUYV}, []PixelFormat{YUYV})
	assert.True(t, errors.Is(err, ErrNoSupportedOutputFormat))
}

func TestStreamDescriptionCompatible(t *testing.T) {
	cur := &StreamDescription{Codec: H264, Width: 640, Height: 480}

	assert.True(t, (&StreamDescription{Codec: H264}).compatible(cur))
	assert.True(t, (&StreamDescription{Codec: H264, Width: 640, Height: 480, FrameRate: Fraction{25, 1}}).compatible(cur))
	assert.False(t, (&StreamDescription{Codec: H264, Width: 1280, Height: 720}).compatible(cur))
	assert.False(t, (&StreamDescription{Codec: HEVC}).compatible(cur))
}

func TestPixelFormat(t *testing.T) {
	assert.Equal(t, "H264", H264.String())
	assert.Equal(t, PixelFormat(0x34363248), H264)

	f, err := ParsePixelFormat("i420")
	require.NoError(t, err)
	assert.Equal(t, I420, f)

	_, err = ParsePixelFormat("bogus")
	assert.Error(t, err)
}
