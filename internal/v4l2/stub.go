//go:build !linux || !(amd64 || arm64)

package v4l2

import (
	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
)

var errUnsupported = errors.New("v4l2: decoding devices are not supported on this platform")

type Device struct{}

func Open(path string, cfg Config) (*Device, error) {
	return nil, &decoder.DeviceError{Device: path, Op: "open", Err: errUnsupported}
}

func Probe(path string) (*Capabilities, error) {
	return nil, &decoder.DeviceError{Device: path, Op: "open", Err: errUnsupported}
}

func (dev *Device) Path() string { return "" }

func (dev *Device) OpenQueue(dir decoder.Direction) (decoder.Queue, error) {
	return nil, errUnsupported
}

func (dev *Device) Capabilities() (*Capabilities, error) {
	return nil, errUnsupported
}

func (dev *Device) Close() error { return nil }
