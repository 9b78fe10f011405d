// Package session owns one conversation: its reconciled message store, its
// UI attachments and its lifecycle. Every write from every event source goes
// through the session's single critical section.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/event"
	"github.com/comigor/jarvis-sync/internal/history"
	"github.com/comigor/jarvis-sync/internal/logger"
	"github.com/comigor/jarvis-sync/internal/metrics"
	"github.com/comigor/jarvis-sync/internal/uistate"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

const (
	defaultProbeTimeout = 5 * time.Second
	defaultRefreshDelay = 500 * time.Millisecond
)

// ThreadLister fetches the thread list after a new thread is announced.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]history.Thread, error)
}

// Notice is a user-facing, dismissible message. It never blocks the session.
type Notice struct {
	Level   string
	Message string
	At      time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the client used by Probe.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithThreadLister enables the delayed thread-list refresh.
func WithThreadLister(l ThreadLister) Option {
	return func(s *Session) { s.lister = l }
}

// WithThreadsRefreshed receives the result of each thread-list refresh.
func WithThreadsRefreshed(fn func([]history.Thread)) Option {
	return func(s *Session) { s.onThreads = fn }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is the reconciled state of one conversation.
type Session struct {
	id         string
	cfg        config.SessionConfig
	log        *slog.Logger
	httpClient *http.Client
	lister     ThreadLister
	onThreads  func([]history.Thread)

	mu            sync.Mutex
	store         *conversation.Store
	ui            map[string]uistate.UIMessage
	fsm           *stateless.StateMachine
	threadID      string
	notice        *Notice
	lastErr       error
	consumers     int
	closed        bool
	refreshCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session for the configured endpoint and moves it to
// Connecting.
func New(cfg config.SessionConfig, opts ...Option) (*Session, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("new session: %w", config.ErrMissingAPIURL)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ThreadRefreshDelay <= 0 {
		cfg.ThreadRefreshDelay = defaultRefreshDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		httpClient: http.DefaultClient,
		store:      conversation.NewStore(),
		ui:         make(map[string]uistate.UIMessage),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.L
	}
	s.log = s.log.With("session", s.id, "assistant", cfg.AssistantID)
	s.fsm = s.newLifecycle()

	s.mu.Lock()
	s.fireLocked(TriggerConnect)
	s.mu.Unlock()

	s.log.Info("session created", "api_url", cfg.APIURL)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dispatch classifies one stream frame and applies it. It returns the kind
// the frame was classified as.
func (s *Session) Dispatch(raw event.Raw) event.Kind {
	ev := event.Classify(raw)
	s.Apply(ev)
	return ev.Kind()
}

// Apply routes a classified event to the merger or reducer that owns it.
func (s *Session) Apply(ev event.Event) {
	if ev == nil {
		return
	}
	metrics.ObserveEvent(ev.Kind().String())

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case event.TokenDelta:
		s.fireLocked(TriggerEventObserved)
		isNew := !s.store.Has(e.MessageID)
		if !s.store.AppendDeltaAs(e.MessageID, e.Role, e.Fragment) {
			s.log.Debug("empty delta ignored", "message", e.MessageID)
			return
		}
		if isNew {
			metrics.AddMessages(metrics.SourceDelta, 1)
		}
	case event.PhaseBoundary:
		s.fireLocked(TriggerEventObserved)
		if e.Phase != event.PhaseEnd {
			return
		}
		n := s.store.MergeSnapshot(e.Messages)
		metrics.AddMessages(metrics.SourceSnapshot, n)
		s.log.Debug("snapshot merged", "scope", e.Scope, "received", len(e.Messages), "appended", n)
	case event.CustomUI:
		s.fireLocked(TriggerEventObserved)
		s.ui = uistate.Reduce(s.ui, e.Op)
	case event.Authoritative:
		s.fireLocked(TriggerEventObserved)
		s.mergeAuthoritativeLocked(e.Messages)
	case event.Update:
		s.fireLocked(TriggerEventObserved)
		s.log.Debug("state update", "nodes", e.Nodes)
	case event.ThreadID:
		s.fireLocked(TriggerEventObserved)
		s.trackThreadLocked(e.ThreadID, e.RunID)
	case event.End:
		s.fireLocked(TriggerStreamCompleted)
	case event.Error:
		s.failLocked(fmt.Errorf("stream error: %s", e.Message))
	case event.Unknown:
		s.log.Debug("unknown event ignored", "type", e.Type, "name", e.Name)
	}
}

// SyncAuthoritative merges the externally maintained message list. It only
// ever adds messages that are not present yet.
func (s *Session) SyncAuthoritative(msgs []conversation.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeAuthoritativeLocked(msgs)
}

func (s *Session) mergeAuthoritativeLocked(msgs []conversation.Message) {
	n := s.store.MergeAuthoritative(msgs)
	metrics.AddMessages(metrics.SourceAuthoritative, n)
	if n > 0 {
		s.log.Debug("authoritative list merged", "received", len(msgs), "appended", n)
	}
}

// BeginTurn marks the start of a new user turn.
func (s *Session) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireLocked(TriggerTurnStarted)
}

// Reset clears the message store and the UI attachments together.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset()
	s.ui = make(map[string]uistate.UIMessage)
	s.log.Info("session reset")
}

// Messages returns a copy of the reconciled messages in display order.
func (s *Session) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Messages()
}

// UIMessages returns a copy of the UI attachments.
func (s *Session) UIMessages() map[string]uistate.UIMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uistate.UIMessage, len(s.ui))
	for k, v := range s.ui {
		out[k] = v
	}
	return out
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.MustState().(State)
}

// ThreadID returns the last thread id announced by the stream.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Loading reports whether a subscription is currently being consumed.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers > 0
}

// Err returns the last transport or stream failure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Notice returns the pending user notice, if any.
func (s *Session) Notice() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return Notice{}, false
	}
	return *s.notice, true
}

// DismissNotice clears the pending notice.
func (s *Session) DismissNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = nil
}

func (s *Session) noticeLocked(level, msg string) {
	s.notice = &Notice{Level: level, Message: msg, At: time.Now()}
}

// failLocked records an unrecoverable failure. Merged content is kept.
func (s *Session) failLocked(err error) {
	s.lastErr = err
	s.log.Error("session failed", "error", err)
	s.noticeLocked("error", err.Error())
	s.fireLocked(TriggerTransportFailed)
}

// Close cancels pending background work. The reconciled state stays
// readable. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
