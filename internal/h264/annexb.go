package h264

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	errors "golang.org/x/xerrors"
)

var (
	startCode3 = []byte{0, 0, 1}
	startCode4 = []byte{0, 0, 0, 1}
)

const (
	naluBufferInitialSize = 16 * 1024
	naluBufferMaximumSize = 4 * 1024 * 1024
)

// NewScanner returns a scanner yielding the NAL units of an Annex-B byte
// stream, without start codes.
func NewScanner(in io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, naluBufferInitialSize), naluBufferMaximumSize)
	scanner.Split(SplitNALU)
	return scanner
}

// SplitNALU is a bufio.SplitFunc splitting NAL units on Annex-B start codes.
func SplitNALU(data []byte, atEOF bool) (advance int, nalu []byte, err error) {
	i := bytes.Index(data, startCode3)

	switch {
	case i == 0:
		// 3-byte start code (0x000001) found at data[0]. Skip these 3 bytes.
		return 3, nil, nil
	case i == 1 && data[0] == 0:
		// 4-byte start code (0x00000001) found at data[0]. Skip these 4 bytes.
		return 4, nil, nil
	case i > 0:
		// Next start code found at index i. Strip the leading zero of a
		// 4-byte start code.
		end := i
		if data[i-1] == 0x00 {
			end = i - 1
		}
		return i + 3, data[0:end], nil
	}

	// No start code found.
	if atEOF {
		if len(data) > 0 {
			return len(data), bytes.TrimRight(data, "\x00"), nil
		}
		return 0, nil, nil
	}
	// Wait for more data.
	return 0, nil, nil
}

// Split returns the NAL units of an Annex-B buffer. The units alias buf.
func Split(buf []byte) []NALU {
	var nalus []NALU
	for len(buf) > 0 {
		advance, token, _ := SplitNALU(buf, true)
		if advance == 0 {
			break
		}
		if len(token) > 0 {
			nalus = append(nalus, NALU(token))
		}
		buf = buf[advance:]
	}
	return nalus
}

// AppendAnnexB appends nalu to dst, prefixed by a 4-byte start code.
func AppendAnnexB(dst []byte, nalus ...[]byte) []byte {
	for _, nalu := range nalus {
		dst = append(dst, startCode4...)
		dst = append(dst, nalu...)
	}
	return dst
}

// AVCCToAnnexB converts length-prefixed NAL units (as stored in MP4) to an
// Annex-B byte stream.
func AVCCToAnnexB(avcc []byte, lengthSize int) ([]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, errors.Errorf("invalid NALU length size %d", lengthSize)
	}

	out := make([]byte, 0, len(avcc)+16)
	for len(avcc) > 0 {
		if len(avcc) < lengthSize {
			return nil, errors.Errorf("truncated NALU length: %d bytes left", len(avcc))
		}
		var prefix [4]byte
		copy(prefix[4-lengthSize:], avcc[:lengthSize])
		n := int(binary.BigEndian.Uint32(prefix[:]))
		avcc = avcc[lengthSize:]
		if n > len(avcc) {
			return nil, errors.Errorf("NALU length %d exceeds %d remaining bytes", n, len(avcc))
		}
		out = AppendAnnexB(out, avcc[:n])
		avcc = avcc[n:]
	}
	return out, nil
}

// HasPicture reports whether an Annex-B buffer contains coded picture data.
func HasPicture(buf []byte) bool {
	for _, nalu := range Split(buf) {
		if nalu.IsVCL() {
			return true
		}
	}
	return false
}
