package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohadec/internal/decoder"
)

const testConfig = `
input: mp4:clip.mp4
device: /dev/video11
formats: [I420, nv12]
loop: true
frame_duration: 40ms
buffers:
  output: 8
  output_size: 2097152
  source_change_timeout: 2s
`

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alohadec.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(testConfig), 0644))

	require.NoError(t, flag.CommandLine.Set("device", "sim"))

	s, err := loadSettings(path, flag.CommandLine)
	require.NoError(t, err)
	assert.Equal(t, "mp4:clip.mp4", s.Input)
	assert.Equal(t, "sim", s.Device)
	assert.True(t, s.Loop)
	assert.Equal(t, 40*time.Millisecond, s.FrameDuration)

	dc := s.deviceConfig()
	assert.Equal(t, 8, dc.OutputBuffers)
	assert.Equal(t, 2<<20, dc.OutputBufferSize)
	assert.Equal(t, 2*time.Second, dc.SourceChangeTimeout)

	cfg, err := s.decoderConfig()
	require.NoError(t, err)
	assert.Equal(t, []decoder.PixelFormat{decoder.I420, decoder.NV12}, cfg.RawFormats)
	assert.Equal(t, 40*time.Millisecond, cfg.DefaultFrameDuration)
}

func TestLoadSettingsErrors(t *testing.T) {
	_, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml"), flag.CommandLine)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("loop: [1, 2"), 0644))
	_, err = loadSettings(path, flag.CommandLine)
	assert.Error(t, err)

	s := &Settings{Formats: []string{"bogus"}}
	_, err = s.decoderConfig()
	assert.Error(t, err)
}
