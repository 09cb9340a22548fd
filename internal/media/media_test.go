package media

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/h264"
)

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1e}
	pps   = []byte{0x68, 0xce, 0x38, 0x80}
	idr   = []byte{0x65, 0x88, 0x84}
	slice = []byte{0x41, 0x9a, 0x02}
)

func writeStream(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	stream := h264.AppendAnnexB(nil, sps, pps, idr, slice, slice)
	require.NoError(t, ioutil.WriteFile(path, stream, 0644))
	return path
}

func TestOpenSourceByExtension(t *testing.T) {
	path := writeStream(t, "clip.264")

	src, err := OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	desc := src.Description()
	assert.Equal(t, decoder.H264, desc.Codec)
	assert.Zero(t, desc.Width)
	assert.Equal(t, DefaultFrameRate, desc.FrameRate)
}

func TestOpenSourceUnknownTag(t *testing.T) {
	_, err := OpenSource("bogus:whatever")
	assert.Error(t, err)

	_, err = OpenSource("h264:/nonexistent/clip.264")
	assert.Error(t, err)

	assert.Contains(t, SourceTypes(), "h264")
	assert.Contains(t, SourceTypes(), "mp4")
}

func TestH264SourceFrames(t *testing.T) {
	src, err := OpenSource("h264:" + writeStream(t, "clip"))
	require.NoError(t, err)
	defer src.Close()

	dur := time.Second / 30

	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.KeyFrame)
	assert.Equal(t, time.Duration(0), f.PTS)
	assert.Equal(t, dur, f.Duration)
	assert.Equal(t, h264.AppendAnnexB(nil, sps, pps), f.CodecData)
	assert.Equal(t, h264.AppendAnnexB(nil, sps, pps, idr), f.Payload)

	f, err = src.ReadFrame()
	require.NoError(t, err)
	assert.False(t, f.KeyFrame)
	assert.Equal(t, dur, f.PTS)
	assert.Nil(t, f.CodecData)

	_, err = src.ReadFrame()
	require.NoError(t, err)
	_, err = src.ReadFrame()
	assert.Equal(t, io.EOF, err)

	// Rewinding keeps timestamps increasing, and the parameter sets are
	// not repeated.
	require.NoError(t, src.(Rewinder).Rewind())
	f, err = src.ReadFrame()
	require.NoError(t, err)
	assert.True(t, f.KeyFrame)
	assert.Equal(t, 3*dur, f.PTS)
	assert.Nil(t, f.CodecData)
}

func TestH264SourceNotSeekable(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	src := NewH264Source(ioutil.NopCloser(r), DefaultFrameRate)
	defer src.Close()
	assert.Equal(t, errNotSeekable, src.(Rewinder).Rewind())
}

func TestOpenMP4Missing(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
