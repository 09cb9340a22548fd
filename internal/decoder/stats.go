package decoder

import "go.uber.org/atomic"

// Stats counts frames through a decoder. Counters are updated from both the
// pipeline and the capture goroutine.
type Stats struct {
	Submitted atomic.Uint64
	Decoded   atomic.Uint64
	Dropped   atomic.Uint64
	Spurious  atomic.Uint64
	Flushes   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Submitted uint64
	Decoded   uint64
	Dropped   uint64
	Spurious  uint64
	Flushes   uint64
	Pending   int
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Submitted: s.Submitted.Load(),
		Decoded:   s.Decoded.Load(),
		Dropped:   s.Dropped.Load(),
		Spurious:  s.Spurious.Load(),
		Flushes:   s.Flushes.Load(),
	}
}
