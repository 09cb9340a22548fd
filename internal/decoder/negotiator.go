package decoder

import (
	errors "golang.org/x/xerrors"
)

// negotiator decides the formats configured on both device queues. The input
// format follows the stream description. The output format can only be chosen
// once the device has seen enough of the stream to know the decoded geometry.
type negotiator struct {
	device string

	// Compressed formats accepted by both the device and the decoder.
	codecs []PixelFormat

	// Raw formats offered by the device and accepted downstream, in order of
	// downstream preference.
	raw []PixelFormat
}

func newNegotiator(device string, probedInput, probedOutput []PixelFormat, cfg *Config) (*negotiator, error) {
	n := &negotiator{
		device: device,
		codecs: intersect(cfg.codecs(), probedInput),
		raw:    intersect(cfg.rawFormats(), probedOutput),
	}
	if len(n.codecs) == 0 {
		return nil, &NegotiationError{device, Output, ErrNoSupportedInputFormat}
	}
	if len(n.raw) == 0 {
		return nil, &NegotiationError{device, Capture, ErrNoSupportedOutputFormat}
	}
	return n, nil
}

// inputFormat returns the output queue format for desc.
func (n *negotiator) inputFormat(desc *StreamDescription) (Format, error) {
	if !contains(n.codecs, desc.Codec) {
		return Format{}, &NegotiationError{
			Device:    n.device,
			Direction: Output,
			Err:       errors.Errorf("%v not in %v: %w", desc.Codec, n.codecs, ErrNoSupportedInputFormat),
		}
	}
	return Format{
		PixelFormat: desc.Codec,
		Width:       desc.Width,
		Height:      desc.Height,
	}, nil
}

// outputCandidates returns the capture formats worth trying, best first, given
// the format the device reports after parsing the headers and the formats it
// currently enumerates.
func (n *negotiator) outputCandidates(reported Format, offered []PixelFormat) ([]PixelFormat, error) {
	candidates := intersect(n.raw, offered)
	if len(candidates) == 0 {
		return nil, &NegotiationError{
			Device:    n.device,
			Direction: Capture,
			Err:       errors.Errorf("device offers %v: %w", offered, ErrNoSupportedOutputFormat),
		}
	}

	// Keep the device's own choice if downstream accepts it; it avoids a
	// conversion inside the device.
	for i, f := range candidates {
		if f == reported.PixelFormat {
			copy(candidates[1:i+1], candidates[:i])
			candidates[0] = f
			break
		}
	}
	return candidates, nil
}
