package co2mon

import (
	"context"
	"sync"
	"time"
)

// Signal is a level-triggered "data ready" flag. It stays set until cleared; setting it again while
// set has no effect, so any number of updates between two clears collapse into one.
type Signal struct {
	mu    sync.Mutex
	ready bool
	ch    chan struct{} // closed while ready
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		s.ready = true
		close(s.ch)
	}
}

func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		s.ready = false
		s.ch = make(chan struct{})
	}
}

func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Done returns a channel that is closed once the signal is set. A fresh channel is handed out after Clear.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Wait blocks until the signal is set or timeout elapses. A negative timeout waits forever.
func (s *Signal) Wait(timeout time.Duration) bool {
	done := s.Done()
	if timeout < 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return s.IsSet()
	}
}

func (s *Signal) WaitContext(ctx context.Context) bool {
	select {
	case <-s.Done():
		return true
	case <-ctx.Done():
		return s.IsSet()
	}
}
