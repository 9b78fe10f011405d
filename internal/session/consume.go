package session

import (
	"context"
	"fmt"

	"github.com/comigor/jarvis-sync/internal/event"
)

// Subscription is a stream of frames from the transport. Events is closed
// when the stream ends; Err then reports why, or nil for a normal end.
type Subscription interface {
	Events() <-chan event.Raw
	Err() error
}

// Consume dispatches every frame of sub until it ends or ctx is done.
// A clean end completes the stream; a transport error moves the session to
// Error and is returned. Cancelling ctx leaves the lifecycle untouched.
func (s *Session) Consume(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.consumers++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.consumers--
		s.mu.Unlock()
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				return s.finish(sub.Err())
			}
			s.Dispatch(raw)
		}
	}
}

func (s *Session) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("subscription: %w", err)
		s.failLocked(err)
		return err
	}
	s.fireLocked(TriggerStreamCompleted)
	return nil
}
