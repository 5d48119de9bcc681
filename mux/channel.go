package mux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/linkmux/bufpool"
)

// Channel is a bounded FIFO of buffer handles between the router and one
// consumer. Enqueueing never blocks.
type Channel struct {
	name string
	ch   chan *bufpool.Buffer
}

// NewChannel creates a channel holding at most capacity buffers.
func NewChannel(name string, capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{name: name, ch: make(chan *bufpool.Buffer, capacity)}
}

// Name identifies the channel in logs and metrics.
func (c *Channel) Name() string { return c.name }

// Len returns the number of queued buffers.
func (c *Channel) Len() int { return len(c.ch) }

// Cap returns the channel capacity.
func (c *Channel) Cap() int { return cap(c.ch) }

// Offer enqueues a Filling buffer and marks it Ready. On a full channel the
// buffer stays with the caller and ErrChannelFull is returned.
func (c *Channel) Offer(b *bufpool.Buffer) error {
	if err := b.Transition(bufpool.Filling, bufpool.Ready); err != nil {
		return err
	}
	select {
	case c.ch <- b:
		return nil
	default:
		if err := b.Transition(bufpool.Ready, bufpool.Filling); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", c.name, ErrChannelFull)
	}
}

// Receive dequeues the oldest buffer, marking it InUse, and waits for one
// until ctx is done. Queued buffers are returned before ctx is considered.
func (c *Channel) Receive(ctx context.Context) (*bufpool.Buffer, error) {
	select {
	case b := <-c.ch:
		return c.take(b)
	default:
	}

	select {
	case b := <-c.ch:
		return c.take(b)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReceive waits up to timeout for a buffer. It returns nil and no error
// when the timeout elapses first.
func (c *Channel) TryReceive(timeout time.Duration) (*bufpool.Buffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b, err := c.Receive(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return b, err
}

func (c *Channel) take(b *bufpool.Buffer) (*bufpool.Buffer, error) {
	if err := b.Transition(bufpool.Ready, bufpool.InUse); err != nil {
		return nil, err
	}
	return b, nil
}
