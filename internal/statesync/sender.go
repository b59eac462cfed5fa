package statesync

import (
	"context"
	"sync"
)

// Sender delivers messages to a worker pool.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// ChannelSender delivers messages over a channel to an in-process worker pool.
type ChannelSender struct {
	ch   chan Message
	gone chan struct{}
	once sync.Once
}

// NewChannelSender creates a sender with the given buffer size.
func NewChannelSender(buffer int) *ChannelSender {
	return &ChannelSender{
		ch:   make(chan Message, buffer),
		gone: make(chan struct{}),
	}
}

// C returns the channel the worker pool receives from.
func (s *ChannelSender) C() <-chan Message { return s.ch }

// Gone is closed when the worker pool has shut down.
func (s *ChannelSender) Gone() <-chan struct{} { return s.gone }

// Send blocks until the message is taken by the buffer, the pool is gone,
// or ctx is done.
func (s *ChannelSender) Send(ctx context.Context, m Message) error {
	select {
	case <-s.gone:
		return ErrPoolGone
	default:
	}
	select {
	case s.ch <- m:
		return nil
	case <-s.gone:
		return ErrPoolGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the worker pool as gone. Later sends fail with ErrPoolGone.
// Messages still buffered are left for the receiver to drain.
func (s *ChannelSender) Close() {
	s.once.Do(func() { close(s.gone) })
}
