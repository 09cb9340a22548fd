package h264

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sps      = []byte{0x67, 0x42, 0x00, 0x1e}
	pps      = []byte{0x68, 0xce, 0x38, 0x80}
	idr      = []byte{0x65, 0x88, 0x84}
	slice    = []byte{0x41, 0x9a, 0x02}
	sliceTwo = []byte{0x41, 0x40, 0x11} // first_mb_in_slice != 0
)

func TestSplit(t *testing.T) {
	buf := []byte{0, 0, 0, 1, 0x67, 1, 2, 0, 0, 1, 0x68, 3, 0, 0, 0, 1, 0x65, 4}
	nalus := Split(buf)
	require.Len(t, nalus, 3)
	assert.Equal(t, NALU{0x67, 1, 2}, nalus[0])
	assert.Equal(t, NALU{0x68, 3}, nalus[1])
	assert.Equal(t, NALU{0x65, 4}, nalus[2])
	assert.EqualValues(t, TypeIDR, nalus[2].Type())
}

func TestHasPicture(t *testing.T) {
	assert.False(t, HasPicture(AppendAnnexB(nil, sps, pps)))
	assert.True(t, HasPicture(AppendAnnexB(nil, sps, pps, idr)))
	assert.False(t, HasPicture(nil))
}

func TestAVCCToAnnexB(t *testing.T) {
	avcc := []byte{0, 0, 0, 3, 0x65, 0x88, 0x84, 0, 0, 0, 2, 0x41, 0x9a}
	out, err := AVCCToAnnexB(avcc, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0, 0, 0, 1, 0x41, 0x9a}, out)

	_, err = AVCCToAnnexB([]byte{0, 0, 0, 9, 1}, 4)
	assert.Error(t, err)
}

func TestAccessUnitReader(t *testing.T) {
	stream := AppendAnnexB(nil, sps, pps, idr, slice, sliceTwo, slice)
	r := NewAccessUnitReader(bytes.NewReader(stream))

	au, err := r.Read()
	require.NoError(t, err)
	assert.True(t, au.KeyFrame)
	assert.Equal(t, AppendAnnexB(nil, sps, pps, idr), au.Data)
	assert.Equal(t, AppendAnnexB(nil, sps, pps), r.ParameterSets())

	// The second slice of the picture stays with its first slice.
	au, err = r.Read()
	require.NoError(t, err)
	assert.False(t, au.KeyFrame)
	assert.Equal(t, AppendAnnexB(nil, slice, sliceTwo), au.Data)

	au, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, AppendAnnexB(nil, slice), au.Data)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}
