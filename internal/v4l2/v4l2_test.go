package v4l2

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/alohadec/internal/decoder"
)

func TestInterlaceMode(t *testing.T) {
	assert.Equal(t, decoder.Progressive, interlaceMode(0))
	assert.Equal(t, decoder.Progressive, interlaceMode(1))
	assert.Equal(t, decoder.Interleaved, interlaceMode(fieldInterlaced))
	assert.Equal(t, decoder.Interleaved, interlaceMode(fieldInterlacedBT))
	assert.Equal(t, decoder.Mixed, interlaceMode(fieldSeqTB))
	assert.Equal(t, decoder.Alternate, interlaceMode(fieldAlternate))
}

func TestCapabilities(t *testing.T) {
	c := &Capabilities{
		Path:          "/dev/video10",
		Driver:        "bcm2835-codec",
		Card:          "bcm2835-codec-decode",
		InputFormats:  []decoder.PixelFormat{decoder.H264, decoder.MJPEG},
		OutputFormats: []decoder.PixelFormat{decoder.I420, decoder.NV12},
	}
	assert.True(t, c.CanDecode(decoder.H264))
	assert.False(t, c.CanDecode(decoder.VP9))
	assert.Equal(t, "/dev/video10 (bcm2835-codec, bcm2835-codec-decode): [H264 MJPEG] -> [I420 NV12]", c.String())
}

func TestProbeMissingDevice(t *testing.T) {
	_, err := Probe(filepath.Join(t.TempDir(), "video99"))
	assert.Error(t, err)

	var devErr *decoder.DeviceError
	assert.ErrorAs(t, err, &devErr)
}
