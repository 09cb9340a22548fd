package h264

// NAL unit types, ITU-T H.264 table 7-1.
const (
	TypeSlice    = 1
	TypeIDR      = 5
	TypeSEI      = 6
	TypeSPS      = 7
	TypePPS      = 8
	TypeAUD      = 9
	TypeEndSeq   = 10
	TypeEndStrm  = 11
	TypeFiller   = 12
	TypeSPSExt   = 13
	TypePrefix   = 14
	TypeSubSPS   = 15
	TypeSliceExt = 20
)

type NALU []byte

func (nalu NALU) ForbiddenBit() byte {
	return nalu[0] & 0x80 >> 7
}

func (nalu NALU) NRI() byte {
	return nalu[0] & 0x60 >> 5
}

func (nalu NALU) Type() byte {
	return nalu[0] & 0x1f
}

// IsVCL reports whether the unit carries coded picture data.
func (nalu NALU) IsVCL() bool {
	t := nalu.Type()
	return t >= TypeSlice && t <= TypeIDR
}

// IsParameterSet reports whether the unit is an SPS or PPS.
func (nalu NALU) IsParameterSet() bool {
	t := nalu.Type()
	return t == TypeSPS || t == TypePPS || t == TypeSPSExt || t == TypeSubSPS
}

// FirstSlice reports whether a VCL unit starts a new picture, i.e.
// first_mb_in_slice is zero. The field is the first Exp-Golomb code of the
// slice header, and zero is coded as a single 1 bit.
func (nalu NALU) FirstSlice() bool {
	return nalu.IsVCL() && len(nalu) > 1 && nalu[1]&0x80 != 0
}
