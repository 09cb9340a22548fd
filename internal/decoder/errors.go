package decoder

import (
	"fmt"

	errors "golang.org/x/xerrors"
)

var (
	// ErrFlushing is returned while a queue or the decoder is being torn down or
	// flushed. It is expected and never reported as a failure.
	ErrFlushing = errors.New("decoder: flushing")

	// ErrQueueFull is returned when a queue cannot accept a payload, e.g. the
	// payload is larger than the negotiated buffer size.
	ErrQueueFull = errors.New("decoder: queue full")

	// ErrNotNegotiated is returned when a frame is rejected because the
	// format could not be agreed with the device or downstream.
	ErrNotNegotiated = errors.New("decoder: not negotiated")

	// ErrSourceChanged is returned by the capture queue when the device stopped
	// producing output because the decoded geometry changed mid-stream. The
	// capture side has to be negotiated again.
	ErrSourceChanged = errors.New("decoder: source changed")

	// ErrSpuriousOutput marks a decoded buffer that had no pending frame.
	ErrSpuriousOutput = errors.New("decoder: decoded buffer without pending frame")

	ErrNoSupportedInputFormat  = errors.New("no supported input format")
	ErrNoSupportedOutputFormat = errors.New("no supported output format")
)

// DeviceError reports a failed device operation. It is fatal to the decoder
// instance: the device must be reopened.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NegotiationError reports that no format compatible with the pipeline exists
// on one of the device queues.
type NegotiationError struct {
	Device    string
	Direction Direction

	// ErrNoSupportedInputFormat or ErrNoSupportedOutputFormat, possibly wrapped.
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("decoder on device %s (%s queue): %v", e.Device, e.Direction, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

type notNegotiatedError struct {
	cause error
}

func notNegotiated(cause error) error {
	if errors.Is(cause, ErrNotNegotiated) {
		return cause
	}
	return &notNegotiatedError{cause}
}

func (e *notNegotiatedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrNotNegotiated, e.cause)
}

func (e *notNegotiatedError) Is(target error) bool {
	return target == ErrNotNegotiated
}

func (e *notNegotiatedError) Unwrap() error {
	return e.cause
}

// isFatal reports whether err permanently disables a decoder.
func isFatal(err error) bool {
	var devErr *DeviceError
	return err != nil && errors.As(err, &devErr)
}
