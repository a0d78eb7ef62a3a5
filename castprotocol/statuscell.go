package castprotocol

import (
	"context"
	"sync"
)

// statusCell holds the latest snapshot of a device-pushed status.
// Snapshots are replaced wholesale and must not be mutated after store.
type statusCell[T any] struct {
	mu      sync.RWMutex
	cur     *T
	changed chan struct{}
}

func newStatusCell[T any]() *statusCell[T] {
	return &statusCell[T]{changed: make(chan struct{})}
}

func (c *statusCell[T]) load() *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// store replaces the snapshot and wakes everyone waiting on changes.
// It returns the snapshot it replaced.
func (c *statusCell[T]) store(v *T) *T {
	c.mu.Lock()
	prev := c.cur
	c.cur = v
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
	return prev
}

// wait returns a channel closed on the next store.
func (c *statusCell[T]) wait() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// await blocks until pred accepts the current or a future snapshot.
// It gives up with doneErr once done is closed.
func (c *statusCell[T]) await(ctx context.Context, done <-chan struct{}, doneErr error, pred func(*T) bool) (*T, error) {
	for {
		c.mu.RLock()
		cur, changed := c.cur, c.changed
		c.mu.RUnlock()

		if pred(cur) {
			return cur, nil
		}

		select {
		case <-changed:
		case <-done:
			return nil, doneErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
