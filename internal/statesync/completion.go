package statesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the state of a Completion.
type State int32

const (
	Sent State = iota
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Sent:
		return "sent"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion tracks one state sync.
type Completion struct {
	state  atomic.Int32
	once   sync.Once
	done   chan struct{}
	err    error
	sentAt time.Time
	took   time.Duration
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{}), sentAt: time.Now()}
}

func (c *Completion) resolve(err error) {
	c.once.Do(func() {
		c.err = err
		c.took = time.Since(c.sentAt)
		if err != nil {
			c.state.Store(int32(Failed))
		} else {
			c.state.Store(int32(Completed))
		}
		close(c.done)
	})
}

// State returns the current state.
func (c *Completion) State() State { return State(c.state.Load()) }

// Done is closed once the completion leaves Sent.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the failure cause once resolved.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Duration returns the time between send and acknowledgement; zero while Sent.
func (c *Completion) Duration() time.Duration {
	select {
	case <-c.done:
		return c.took
	default:
		return 0
	}
}

// Wait blocks until the completion resolves or ctx is done. Giving up on
// ctx leaves the completion in Sent.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
