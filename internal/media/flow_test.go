package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
)

func frame(seq uint64) *decoder.DecodedFrame {
	return &decoder.DecodedFrame{Sequence: seq, Data: []byte{byte(seq)}}
}

func TestFlowFanOut(t *testing.T) {
	started, stopped := make(chan bool, 1), make(chan bool, 1)
	f := &Flow{
		Start: func() { started <- true },
		Stop:  func() { stopped <- true },
	}

	a := f.Subscribe(4)
	b := f.Subscribe(4)
	assert.Len(t, started, 1)
	assert.Equal(t, 2, f.Subscribers())

	require.NoError(t, f.PushFrame(frame(1)))
	assert.EqualValues(t, 1, (<-a).Sequence)
	assert.EqualValues(t, 1, (<-b).Sequence)

	f.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok)
	assert.Len(t, stopped, 0)

	f.Unsubscribe(b)
	<-stopped
}

func TestFlowDropsOldest(t *testing.T) {
	f := &Flow{}
	s := f.Subscribe(2)

	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, f.PushFrame(frame(seq)))
	}
	assert.EqualValues(t, 3, (<-s).Sequence)
	assert.EqualValues(t, 4, (<-s).Sequence)
	assert.EqualValues(t, 2, f.Missed())
}

func TestFlowOutputState(t *testing.T) {
	reject := xerrors.New("no thanks")
	f := &Flow{
		AcceptState: func(state *decoder.OutputState) error {
			if state.PixelFormat != decoder.NV12 {
				return reject
			}
			return nil
		},
	}

	state := &decoder.OutputState{Format: decoder.Format{PixelFormat: decoder.I420}}
	assert.Equal(t, reject, f.SetOutputState(state))
	assert.Nil(t, f.OutputState())

	state.PixelFormat = decoder.NV12
	require.NoError(t, f.SetOutputState(state))
	assert.Equal(t, state, f.OutputState())
}

func TestFlowClose(t *testing.T) {
	f := &Flow{}
	s := f.Subscribe(1)
	require.NoError(t, f.Close())

	_, ok := <-s
	assert.False(t, ok)
	assert.Equal(t, decoder.ErrFlushing, f.PushFrame(frame(1)))

	// Late subscribers get a closed channel.
	_, ok = <-f.Subscribe(1)
	assert.False(t, ok)
}

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestFileSinkAndTee(t *testing.T) {
	var buf closeBuffer
	fs := NewWriterSink(&buf)
	flow := &Flow{}
	s := flow.Subscribe(2)

	sink := Tee(fs, flow)
	require.NoError(t, sink.SetOutputState(&decoder.OutputState{}))
	require.NoError(t, sink.PushFrame(frame(7)))
	require.NoError(t, sink.PushFrame(frame(8)))
	require.NoError(t, fs.Close())

	assert.Equal(t, []byte{7, 8}, buf.Bytes())
	assert.True(t, buf.closed)
	assert.Equal(t, 2, fs.Frames())
	assert.EqualValues(t, 7, (<-s).Sequence)
}
