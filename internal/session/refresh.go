package session

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/comigor/jarvis-sync/internal/metrics"
)

// trackThreadLocked records a newly announced thread id and schedules a
// thread-list refresh. The store is left alone: whether a new thread means
// a reset is the caller's decision.
func (s *Session) trackThreadLocked(threadID, runID string) {
	if threadID == "" || threadID == s.threadID {
		return
	}
	prev := s.threadID
	s.threadID = threadID
	s.log.Info("thread id observed", "thread", threadID, "previous", prev, "run", runID)
	s.scheduleRefreshLocked()
}

// scheduleRefreshLocked starts one delayed thread-list fetch, superseding
// any fetch still waiting. The fetch is bound to the session's lifetime.
func (s *Session) scheduleRefreshLocked() {
	if s.lister == nil || s.closed {
		return
	}
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.refreshCancel = cancel
	delay := s.cfg.ThreadRefreshDelay

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("thread refresh panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		s.refreshAfter(ctx, delay)
	}()
}

func (s *Session) refreshAfter(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	threads, err := s.lister.ListThreads(ctx)
	if err != nil {
		metrics.ThreadRefreshFailed()
		s.log.Warn("thread list refresh failed", "error", err)
		return
	}
	s.log.Debug("thread list refreshed", "threads", len(threads))
	if s.onThreads != nil && ctx.Err() == nil {
		s.onThreads(threads)
	}
}
