package broker

import (
	"context"
	"sync"
)

type handleState int

const (
	statePending handleState = iota
	stateResolved
	stateFailed
	stateCancelled
)

// Handle is the single-assignment result slot connecting an accepted
// request to its eventual outcome. Exactly two parties touch it: the
// gateway that created it (awaits, may cancel) and the worker (resolves or
// fails). The first terminal transition wins; later ones are silent no-ops.
type Handle struct {
	mu    sync.Mutex
	state handleState
	text  string
	err   error
	done  chan struct{}
}

func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve records a successful result. It reports whether this call
// performed the transition; false means the handle was already terminal
// and the result was dropped.
func (h *Handle) Resolve(text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != statePending {
		return false
	}
	h.state = stateResolved
	h.text = text
	close(h.done)
	return true
}

// Fail records a generation failure, with the same first-write-wins
// semantics as Resolve.
func (h *Handle) Fail(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != statePending {
		return false
	}
	h.state = stateFailed
	h.err = err
	close(h.done)
	return true
}

// Cancel marks the handle cancelled so a late worker write is dropped.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != statePending {
		return false
	}
	h.state = stateCancelled
	close(h.done)
	return true
}

// Cancelled reports whether the waiter has given up on this handle.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateCancelled
}

// Await blocks until the handle reaches a terminal state or ctx expires.
// On expiry it cancels the handle itself and returns ErrTimeout; the
// worker may still be holding the handle and will observe the
// cancellation before writing.
func (h *Handle) Await(ctx context.Context) (string, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		if h.Cancel() {
			return "", ErrTimeout
		}
		// Lost the race: the worker wrote a result just as the deadline
		// elapsed. Deliver it.
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateResolved:
		return h.text, nil
	case stateFailed:
		return "", h.err
	default:
		return "", ErrTimeout
	}
}
