// Package transport delivers agent stream frames over a websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comigor/jarvis-sync/internal/event"
	"github.com/comigor/jarvis-sync/internal/logger"
)

const (
	handshakeTimeout = 5 * time.Second
	readIdleTimeout  = 2 * time.Minute
	eventBuffer      = 64
)

// Subscription is one open stream. Events is closed when the stream ends.
type Subscription struct {
	conn   *websocket.Conn
	events chan event.Raw
	done   chan struct{}
	log    *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closing   bool
}

// Dial opens a stream subscription at url. apiKey, when set, is sent as
// X-Api-Key on the handshake.
func Dial(ctx context.Context, url, apiKey string) (*Subscription, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
	}
	header := http.Header{}
	if apiKey != "" {
		header.Set("X-Api-Key", apiKey)
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	s := &Subscription{
		conn:   conn,
		events: make(chan event.Raw, eventBuffer),
		done:   make(chan struct{}),
		log:    logger.L.With("stream", url),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the frame channel.
func (s *Subscription) Events() <-chan event.Raw { return s.events }

// Err reports why the stream ended. It is nil while the stream is open and
// after a normal close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.setErr(fmt.Errorf("read loop panic: %v", r))
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		var raw event.Raw
		if err := json.Unmarshal(data, &raw); err != nil || raw.Type == "" {
			s.log.Warn("undecodable frame skipped", "error", err, "bytes", len(data))
			continue
		}
		select {
		case s.events <- raw:
		case <-s.done:
			return
		}
	}
}

// setErr records a read failure unless it is a normal end of stream.
func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || isNormalClose(err) {
		return
	}
	s.err = err
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
