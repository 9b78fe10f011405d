// Package event decodes stream frames into a closed set of typed events.
//
// Classification is a pure step at the edge of the system: untyped payloads
// are turned into one of the variants below before anything downstream sees
// them, and shapes that do not fit any variant become Unknown.
package event

import (
	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/uistate"
)

// Kind tags a classified event.
type Kind int

const (
	KindUnknown Kind = iota
	KindTokenDelta
	KindPhaseBoundary
	KindCustomUI
	KindAuthoritative
	KindUpdate
	KindThreadID
	KindEnd
	KindError
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	KindTokenDelta:    "token_delta",
	KindPhaseBoundary: "phase_boundary",
	KindCustomUI:      "custom_ui",
	KindAuthoritative: "authoritative",
	KindUpdate:        "update",
	KindThreadID:      "thread_id",
	KindEnd:           "end",
	KindError:         "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Event is a classified stream event.
type Event interface {
	Kind() Kind
}

// Phase is the edge of a lifecycle phase.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseEnd
)

func (p Phase) String() string {
	if p == PhaseEnd {
		return "end"
	}
	return "start"
}

// TokenDelta is a content fragment for one message.
type TokenDelta struct {
	MessageID string
	// Role is the chunk's message type when the producer sends one.
	Role     string
	Fragment conversation.Content
}

// PhaseBoundary marks the start or end of a chain, tool or model invocation.
// End boundaries may carry complete messages; start boundaries never do.
type PhaseBoundary struct {
	Phase    Phase
	Scope    string // "chain", "tool", "chat_model" or "llm"
	Messages []conversation.Message
}

// CustomUI is an upsert or removal of a UI attachment.
type CustomUI struct {
	Op uistate.Op
}

// Authoritative is a new copy of the externally maintained message list.
type Authoritative struct {
	Messages []conversation.Message
}

// Update signals a server-side state change.
type Update struct {
	Nodes []string
}

// ThreadID announces the thread (and run) the stream belongs to.
type ThreadID struct {
	ThreadID string
	RunID    string
}

// End marks the normal end of the stream.
type End struct{}

// Error is a failure reported by the stream itself.
type Error struct {
	Message string
}

// Unknown is any frame that matched nothing.
type Unknown struct {
	Type string
	Name string
}

func (TokenDelta) Kind() Kind    { return KindTokenDelta }
func (PhaseBoundary) Kind() Kind { return KindPhaseBoundary }
func (CustomUI) Kind() Kind      { return KindCustomUI }
func (Authoritative) Kind() Kind { return KindAuthoritative }
func (Update) Kind() Kind        { return KindUpdate }
func (ThreadID) Kind() Kind      { return KindThreadID }
func (End) Kind() Kind           { return KindEnd }
func (Error) Kind() Kind         { return KindError }
func (Unknown) Kind() Kind       { return KindUnknown }
