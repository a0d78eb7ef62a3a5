package castprotocol

import (
	"math"
	"sync"
)

// maxRequestID keeps ids inside the int32 range receivers expect.
const maxRequestID = math.MaxInt32

type result struct {
	env Envelope
	err error
}

// waiter is one pending request. ch is buffered so resolving never blocks
// the read loop.
type waiter struct {
	id    int
	scope string
	ch    chan result
}

// correlator matches responses to pending requests by request id.
type correlator struct {
	mu      sync.Mutex
	last    int
	pending map[int]*waiter
	closed  error
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[int]*waiter)}
}

// register assigns a fresh request id. Ids still pending are skipped so an
// id is never reused while its waiter is alive.
func (c *correlator) register(scope string) (*waiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}

	id := c.last
	for {
		id++
		if id > maxRequestID || id <= 0 {
			id = 1
		}
		if _, busy := c.pending[id]; !busy {
			break
		}
	}
	c.last = id

	w := &waiter{id: id, scope: scope, ch: make(chan result, 1)}
	c.pending[id] = w
	return w, nil
}

// resolve hands env to the waiter registered under id.
// It reports false when no such waiter exists.
func (c *correlator) resolve(id int, env Envelope) bool {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		w.ch <- result{env: env}
	}
	return ok
}

// cancel removes the waiter for id. It reports false when the waiter was
// already resolved or failed, in which case its result is in the channel.
func (c *correlator) cancel(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// failAll fails every waiter with err and refuses new registrations.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	failed := c.pending
	c.pending = make(map[int]*waiter)
	c.mu.Unlock()

	for _, w := range failed {
		w.ch <- result{err: err}
	}
	return len(failed)
}

// invalidate fails the waiters bound to scope.
func (c *correlator) invalidate(scope string, err func(w *waiter) error) int {
	if scope == "" {
		return 0
	}

	c.mu.Lock()
	var failed []*waiter
	for id, w := range c.pending {
		if w.scope == scope {
			failed = append(failed, w)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, w := range failed {
		w.ch <- result{err: err(w)}
	}
	return len(failed)
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
