package color

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohadec/internal/decoder"
)

func TestYUYVToYUV420P(t *testing.T) {
	r := image.Rect(0, 0, 1280, 720)

	yuyv := NewYUYV(r)
	yuv420p := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)

	// Write some sample data
	for i := 0; i < 2*1280*720; i++ {
		yuyv.Packed[i] = byte(i)
	}

	YUYVToYUV420P(yuv420p, yuyv)

	// Verify luma
	for i := 0; i < 1280*720; i++ {
		if yuv420p.Y[i] != byte(2*i) {
			t.Fatalf("luma %d: %d", i, yuv420p.Y[i])
		}
	}

	// Verify chroma
	for row := 0; row < 720/2; row++ {
		for col := 0; col < 1280/2; col++ {
			if yuv420p.Cb[1280/2*row+col] != byte(4*1280*row+4*col+1) {
				t.Fatalf("cb %d,%d", row, col)
			}
			if yuv420p.Cr[1280/2*row+col] != byte(4*1280*row+4*col+3) {
				t.Fatalf("cr %d,%d", row, col)
			}
		}
	}
}

// 4x2 NV12 frame: 8 luma bytes, then one row of interleaved chroma.
var nv12 = []byte{
	1, 2, 3, 4,
	5, 6, 7, 8,
	10, 20, 11, 21,
}

func TestToI420(t *testing.T) {
	out, err := ToI420(nil, nv12, decoder.NV12, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}, out)

	out, err = ToI420(out, nv12, decoder.NV21, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 20, 21, 10, 11}, out)

	yv12 := []byte{1, 2, 3, 4, 5, 6, 7, 8, 30, 31, 40, 41}
	out, err = ToI420(nil, yv12, decoder.YV12, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 40, 41, 30, 31}, out)

	_, err = ToI420(nil, nv12[:6], decoder.NV12, 4, 2)
	assert.Error(t, err)

	_, err = ToI420(nil, nv12, decoder.RGB24, 4, 2)
	assert.ErrorIs(t, err, ErrUnsupported)
}

type lastFrame struct {
	state *decoder.OutputState
	frame *decoder.DecodedFrame
}

func (s *lastFrame) SetOutputState(state *decoder.OutputState) error {
	s.state = state
	return nil
}

func (s *lastFrame) PushFrame(f *decoder.DecodedFrame) error {
	s.frame = f
	return nil
}

func TestI420Sink(t *testing.T) {
	next := &lastFrame{}
	sink := I420Sink(next)

	err := sink.SetOutputState(&decoder.OutputState{Format: decoder.Format{PixelFormat: decoder.RGB24, Width: 4, Height: 2}})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Nil(t, next.state)

	require.NoError(t, sink.SetOutputState(&decoder.OutputState{Format: decoder.Format{PixelFormat: decoder.NV12, Width: 4, Height: 2}}))
	assert.Equal(t, decoder.I420, next.state.PixelFormat)
	assert.Equal(t, 12, next.state.SizeImage)

	require.NoError(t, sink.PushFrame(&decoder.DecodedFrame{Sequence: 5, Data: nv12}))
	assert.EqualValues(t, 5, next.frame.Sequence)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}, next.frame.Data)
}

func BenchmarkYUYVToYUV420PAt720P(b *testing.B) {
	r := image.Rect(0, 0, 1280, 720)
	yuyv := NewYUYV(r)
	yuv420p := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		YUYVToYUV420P(yuv420p, yuyv)
	}
}
