package h264

import (
	"bufio"
	"io"
)

// AccessUnitReader groups the NAL units of an Annex-B stream into access
// units, one coded picture each, following ITU-T H.264 section 7.4.1.2.3.
type AccessUnitReader struct {
	scanner *bufio.Scanner

	// First NAL unit of the next access unit, read ahead.
	next []byte

	// Most recent parameter sets.
	sps, pps []byte
}

func NewAccessUnitReader(in io.Reader) *AccessUnitReader {
	return &AccessUnitReader{scanner: NewScanner(in)}
}

// AccessUnit is one coded picture in Annex-B form.
type AccessUnit struct {
	Data     []byte
	KeyFrame bool
}

// startsNewAU reports whether nalu begins a new access unit, given that the
// current one already contains a picture.
func startsNewAU(nalu NALU) bool {
	switch nalu.Type() {
	case TypeAUD, TypeSPS, TypePPS, TypeSEI, TypePrefix, TypeSubSPS, TypeEndSeq:
		return true
	}
	return nalu.FirstSlice()
}

// Read returns the next access unit, or io.EOF.
func (r *AccessUnitReader) Read() (*AccessUnit, error) {
	au := &AccessUnit{}
	hasPicture := false

	for {
		var nalu NALU
		if r.next != nil {
			nalu, r.next = r.next, nil
		} else if r.scanner.Scan() {
			nalu = NALU(append([]byte(nil), r.scanner.Bytes()...))
		} else {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			if len(au.Data) == 0 {
				return nil, io.EOF
			}
			return au, nil
		}
		if len(nalu) == 0 {
			continue
		}

		if hasPicture && startsNewAU(nalu) {
			r.next = nalu
			return au, nil
		}

		switch nalu.Type() {
		case TypeSPS:
			r.sps = nalu
		case TypePPS:
			r.pps = nalu
		case TypeIDR:
			au.KeyFrame = true
		}
		if nalu.IsVCL() {
			hasPicture = true
		}
		au.Data = AppendAnnexB(au.Data, nalu)
	}
}

// ParameterSets returns the most recent SPS and PPS in Annex-B form, or nil if
// either has not been seen yet.
func (r *AccessUnitReader) ParameterSets() []byte {
	if r.sps == nil || r.pps == nil {
		return nil
	}
	return AppendAnnexB(nil, r.sps, r.pps)
}
