package connectivity

import (
	"context"
	"sync"
)

// Signal is a latched readiness condition. It starts unset; Set latches
// it permanently and releases all current and future waiters.
//
// Set may be called from any goroutine, any number of times.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set latches the signal. Subsequent calls are no-ops.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been latched.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is set or the context is cancelled.
// The wait itself is unbounded; cancellation comes only from the
// caller's context.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}
