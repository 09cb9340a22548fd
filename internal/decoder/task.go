package decoder

import "sync"

// A task runs a long-lived function in its own goroutine. At most one instance
// runs at any time. The function decides itself when to return; callers make
// it return by unlocking the queue it blocks on, then join.
type task struct {
	// Closed when the running function returns.
	terminated chan struct{}

	sync.Mutex
}

// start runs fn in a new goroutine, first waiting for a previous run that has
// not fully returned yet.
func (t *task) start(fn func()) {
	t.join()

	t.Lock()
	defer t.Unlock()

	done := make(chan struct{})
	t.terminated = done
	go func() {
		defer close(done)
		fn()
	}()
}

// join blocks until the current run, if any, has returned.
func (t *task) join() {
	t.Lock()
	done := t.terminated
	t.Unlock()

	if done != nil {
		<-done
	}
}

func (t *task) running() bool {
	t.Lock()
	defer t.Unlock()

	if t.terminated == nil {
		return false
	}
	select {
	case <-t.terminated:
		return false
	default:
		return true
	}
}
