package registry

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/v4l2"
)

type fakeProbe struct {
	devices map[string]*v4l2.Capabilities
	calls   map[string]int
}

func (p *fakeProbe) probe(path string) (*v4l2.Capabilities, error) {
	p.calls[filepath.Base(path)]++
	if caps, ok := p.devices[filepath.Base(path)]; ok {
		c := *caps
		c.Path = path
		return &c, nil
	}
	return nil, &decoder.DeviceError{Device: path, Op: "open", Err: errors.New("not a decoder")}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeProbe) {
	dir := t.TempDir()
	for _, name := range []string{"video0", "video10", "video11", "video12"} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	p := &fakeProbe{
		devices: map[string]*v4l2.Capabilities{
			"video10": {InputFormats: []decoder.PixelFormat{decoder.MPEG2}, OutputFormats: []decoder.PixelFormat{decoder.I420}},
			"video11": {InputFormats: []decoder.PixelFormat{decoder.H264, decoder.HEVC}, OutputFormats: []decoder.PixelFormat{decoder.NV12}},
			"video12": {OutputFormats: []decoder.PixelFormat{decoder.NV12}}, // encoder side
		},
		calls: map[string]int{},
	}

	r := New(8)
	r.Pattern = filepath.Join(dir, "video*")
	r.Probe = p.probe
	return r, p
}

func TestScan(t *testing.T) {
	r, p := newTestRegistry(t)

	devices, err := r.Scan()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "video10", filepath.Base(devices[0].Path))
	assert.Equal(t, "video11", filepath.Base(devices[1].Path))

	// Results, including failures, come from the cache.
	_, err = r.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls["video0"])
	assert.Equal(t, 1, p.calls["video11"])

	r.Forget(devices[1].Path)
	_, err = r.Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls["video11"])
}

func TestFind(t *testing.T) {
	r, _ := newTestRegistry(t)

	caps, err := r.Find(decoder.HEVC)
	require.NoError(t, err)
	assert.Equal(t, "video11", filepath.Base(caps.Path))

	caps, err = r.Find(decoder.MPEG2)
	require.NoError(t, err)
	assert.Equal(t, "video10", filepath.Base(caps.Path))

	_, err = r.Find(decoder.VP9)
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func TestEviction(t *testing.T) {
	r, p := newTestRegistry(t)
	r.cache.MaxEntries = 1

	_, err := r.Scan()
	require.NoError(t, err)
	_, err = r.Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls["video0"])
}

func TestNewDecoderMissingDevice(t *testing.T) {
	_, err := NewDecoder(filepath.Join(t.TempDir(), "video99"), nil, Config{})
	var devErr *decoder.DeviceError
	assert.True(t, errors.As(err, &devErr))
}

func TestDecodersSkipsUnusableDevices(t *testing.T) {
	r, _ := newTestRegistry(t)

	// The fake nodes are plain files, which cannot be opened as devices.
	var asked []string
	decoders, err := r.Decoders(func(caps *v4l2.Capabilities) decoder.Sink {
		asked = append(asked, filepath.Base(caps.Path))
		return nil
	}, Config{})
	require.NoError(t, err)
	assert.Empty(t, decoders)
	assert.Equal(t, []string{"video10", "video11"}, asked)
}
