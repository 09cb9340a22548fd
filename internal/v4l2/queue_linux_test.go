//go:build linux && (amd64 || arm64)

package v4l2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/lanikai/alohadec/internal/decoder"
)

// testQueue returns a queue on a device whose file descriptor is an eventfd,
// which is writable at once and readable once written to.
func testQueue(t *testing.T, dir decoder.Direction) (*queue, int) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	dev := &Device{path: "eventfd", fd: fd}
	q, err := newQueue(dev, dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(q.unlockFd)
		unix.Close(q.resumeFd)
	})
	dev.queues[dir] = q
	return q, fd
}

func TestWait(t *testing.T) {
	q, fd := testQueue(t, decoder.Output)
	q.mu.Lock()
	defer q.mu.Unlock()

	assert.NoError(t, q.wait(unix.POLLOUT))

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Unlock()
	}()
	assert.Equal(t, decoder.ErrFlushing, q.wait(unix.POLLIN))

	q.UnlockStop()
	require.NoError(t, writeEventfd(fd))
	assert.NoError(t, q.wait(unix.POLLIN))
}

func TestLastBufferWithoutDrain(t *testing.T) {
	capture, _ := testQueue(t, decoder.Capture)
	capture.streaming = true

	// Nothing asked the device to stop.
	capture.eos.Store(true)
	_, err := capture.Dequeue()
	assert.Equal(t, decoder.ErrSourceChanged, err)
	assert.False(t, capture.eos.Load())
	assert.False(t, capture.drained.Load())

	// With a drain pending, the end is reported once and the queue waits.
	output, err := newQueue(capture.dev, decoder.Output)
	require.NoError(t, err)
	defer unix.Close(output.unlockFd)
	defer unix.Close(output.resumeFd)
	capture.dev.queues[decoder.Output] = output
	output.stopped.Store(true)

	capture.eos.Store(true)
	buf, err := capture.Dequeue()
	require.NoError(t, err)
	assert.Empty(t, buf.Data)
	assert.True(t, capture.drained.Load())

	go func() {
		time.Sleep(10 * time.Millisecond)
		capture.Unlock()
	}()
	_, err = capture.Dequeue()
	assert.Equal(t, decoder.ErrFlushing, err)
}
