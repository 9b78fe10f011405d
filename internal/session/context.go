package session

import (
	"context"
	"errors"
)

// ErrNoSession is the panic value of FromContext when no session is attached.
var ErrNoSession = errors.New("no session in context")

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached to ctx. Reading conversation
// state outside a session is a programming error, so it panics when there
// is none.
func FromContext(ctx context.Context) *Session {
	s, ok := lookup(ctx)
	if !ok {
		panic(ErrNoSession)
	}
	return s
}

func lookup(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
