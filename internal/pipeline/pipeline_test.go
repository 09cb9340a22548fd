package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/h264"
	"github.com/lanikai/alohadec/internal/media"
	"github.com/lanikai/alohadec/internal/simdev"
)

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1e}
	pps   = []byte{0x68, 0xce, 0x38, 0x80}
	idr   = []byte{0x65, 0x88, 0x84}
	slice = []byte{0x41, 0x9a, 0x02}
)

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func newSource() media.Source {
	stream := h264.AppendAnnexB(nil, sps, pps, idr, slice, slice)
	return media.NewH264Source(memFile{bytes.NewReader(stream)}, decoder.Fraction{Num: 25, Den: 1})
}

type recorder struct {
	sync.Mutex
	frames []*decoder.DecodedFrame
}

func (r *recorder) SetOutputState(*decoder.OutputState) error { return nil }

func (r *recorder) PushFrame(f *decoder.DecodedFrame) error {
	r.Lock()
	r.frames = append(r.frames, f)
	r.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.frames)
}

func openDecoder(t *testing.T, sink decoder.Sink) (*decoder.Decoder, *simdev.Device) {
	dev := simdev.New(simdev.Config{})
	dec, err := decoder.Open(dev, sink, decoder.Config{})
	require.NoError(t, err)
	return dec, dev
}

func TestRunToEnd(t *testing.T) {
	sink := &recorder{}
	dec, _ := openDecoder(t, sink)

	r := New(dec, newSource(), Options{})
	require.NoError(t, r.Run(context.Background()))
	assert.EqualValues(t, 3, r.Submitted())

	require.Len(t, sink.frames, 3)
	for i, f := range sink.frames {
		assert.EqualValues(t, i, f.Sequence)
		assert.Equal(t, time.Duration(i)*40*time.Millisecond, f.PTS)
		assert.Equal(t, 40*time.Millisecond, f.Duration)
	}
	assert.Equal(t, h264.AppendAnnexB(nil, sps, pps, idr), sink.frames[0].Data)
	assert.False(t, dec.Active())
}

func TestLoopUntilCancelled(t *testing.T) {
	sink := &recorder{}
	dec, _ := openDecoder(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(dec, newSource(), Options{Loop: true})
	result := make(chan error, 1)
	go func() { result <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.len() >= 7 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	sink.Lock()
	defer sink.Unlock()
	for i := 1; i < len(sink.frames); i++ {
		assert.True(t, sink.frames[i].Sequence > sink.frames[i-1].Sequence)
		assert.True(t, sink.frames[i].PTS > sink.frames[i-1].PTS)
	}
}

func TestLoopNeedsRewinder(t *testing.T) {
	dec, _ := openDecoder(t, &recorder{})

	stream := h264.AppendAnnexB(nil, sps, pps, idr)
	src := media.NewH264Source(nopCloser{bytes.NewReader(stream)}, decoder.Fraction{Num: 30, Den: 1})
	err := New(dec, src, Options{Loop: true}).Run(context.Background())
	assert.Error(t, err)
}

type nopCloser struct {
	r *bytes.Reader
}

func (n nopCloser) Read(p []byte) (int, error) {
	return n.r.Read(p)
}

func (nopCloser) Close() error {
	return nil
}

func TestUnsupportedCodec(t *testing.T) {
	dev := simdev.New(simdev.Config{InputFormats: []decoder.PixelFormat{decoder.VP8}})
	dec, err := decoder.Open(dev, &recorder{}, decoder.Config{})
	require.NoError(t, err)

	err = New(dec, newSource(), Options{}).Run(context.Background())
	var negErr *decoder.NegotiationError
	assert.ErrorAs(t, err, &negErr)
}
