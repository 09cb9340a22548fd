package decoder

import "sync"

// Correlator holds frames submitted to the device and pairs decoded buffers,
// which carry no identity, with the oldest of them. Lookups are linear: the
// number of frames in flight is bounded by the device buffer count.
type Correlator struct {
	mu     sync.Mutex
	frames []*Frame
}

func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Record adds a pending frame.
func (c *Correlator) Record(f *Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

// TakeOldest removes and returns the frame with the smallest timestamp (ties go
// to the smallest sequence number), or nil if nothing is pending.
func (c *Correlator) TakeOldest() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) == 0 {
		return nil
	}
	oldest := 0
	for i, f := range c.frames[1:] {
		if f.older(c.frames[oldest]) {
			oldest = i + 1
		}
	}
	f := c.frames[oldest]
	c.removeAt(oldest)
	log.Trace(6, "oldest frame is #%d %v and %d frames left", f.Sequence, f.PTS, len(c.frames))
	return f
}

// Remove drops f if it is still pending.
func (c *Correlator) Remove(f *Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, g := range c.frames {
		if g == f {
			c.removeAt(i)
			return true
		}
	}
	return false
}

func (c *Correlator) removeAt(i int) {
	// Order is irrelevant, so swap with the last element.
	n := len(c.frames) - 1
	c.frames[i] = c.frames[n]
	c.frames[n] = nil
	c.frames = c.frames[:n]
}

// Len returns the number of pending frames.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Clear drops every pending frame and returns how many there were.
func (c *Correlator) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.frames)
	for i := range c.frames {
		c.frames[i] = nil
	}
	c.frames = c.frames[:0]
	return n
}
