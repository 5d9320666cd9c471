// Package admission bounds the number of concurrently executing engine
// calls. One Controller is constructed at startup and shared by every
// request; it is the only cross-request mutable state in the gateway.
package admission

import (
	"context"
	"fmt"
)

// Controller is a blocking counting semaphore. Acquire parks the
// calling goroutine until a slot frees up or the context is cancelled;
// Release never blocks.
type Controller struct {
	slots chan struct{}
}

// New constructs a controller permitting limit concurrent holders.
func New(limit int) (*Controller, error) {
	if limit < 1 {
		return nil, fmt.Errorf("admission limit must be at least 1, got %d", limit)
	}
	return &Controller{slots: make(chan struct{}, limit)}, nil
}

// Acquire claims one slot, blocking until one is available. It returns
// the context's error if ctx is done first, in which case no slot is
// held and Release must not be called.
func (c *Controller) Acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one previously acquired slot.
func (c *Controller) Release() {
	select {
	case <-c.slots:
	default:
		panic("admission: release without acquire")
	}
}

// InFlight returns the number of currently held slots.
func (c *Controller) InFlight() int {
	return len(c.slots)
}

// Limit returns the configured concurrency bound.
func (c *Controller) Limit() int {
	return cap(c.slots)
}
