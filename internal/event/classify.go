package event

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/uistate"
)

type lifecycleGroup int

const (
	groupNone lifecycleGroup = iota
	groupDelta
	groupStart
	groupEnd
)

// lifecycleNames maps recognised lifecycle event names to their group.
var lifecycleNames = map[string]lifecycleGroup{
	"on_chat_model_stream": groupDelta,
	"on_llm_stream":        groupDelta,
	"on_chain_stream":      groupDelta,

	"on_chain_start":      groupStart,
	"on_tool_start":       groupStart,
	"on_chat_model_start": groupStart,
	"on_llm_start":        groupStart,

	"on_chain_end":      groupEnd,
	"on_tool_end":       groupEnd,
	"on_chat_model_end": groupEnd,
	"on_llm_end":        groupEnd,
}

// Classify decodes a frame into a typed event. It never panics and never
// fails: frames that cannot be understood come back as Unknown.
func Classify(raw Raw) Event {
	switch raw.Type {
	case TypeEvents:
		return classifyLifecycle(raw.Data)
	case TypeCustom:
		return classifyCustom(raw.Data)
	case TypeValues:
		return classifyValues(raw.Data)
	case TypeUpdates:
		return classifyUpdates(raw.Data)
	case TypeMetadata:
		return classifyMetadata(raw.Data)
	case TypeEnd:
		return End{}
	case TypeError:
		return Error{Message: errorMessage(raw.Data)}
	}
	return Unknown{Type: raw.Type}
}

func classifyLifecycle(data json.RawMessage) Event {
	var body lifecycleData
	if err := json.Unmarshal(data, &body); err != nil {
		return Unknown{Type: TypeEvents}
	}
	switch lifecycleNames[body.Event] {
	case groupDelta:
		return decodeDelta(body.Data)
	case groupStart:
		return PhaseBoundary{Phase: PhaseStart, Scope: scopeOf(body.Event)}
	case groupEnd:
		return PhaseBoundary{Phase: PhaseEnd, Scope: scopeOf(body.Event), Messages: decodeOutput(body.Data)}
	}
	return Unknown{Type: TypeEvents, Name: body.Event}
}

// scopeOf turns "on_chat_model_end" into "chat_model".
func scopeOf(name string) string {
	s := strings.TrimPrefix(name, "on_")
	for _, suffix := range []string{"_start", "_end", "_stream"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}

// decodeDelta reads {"chunk": {"id": ..., "content": ...}}. A chunk that
// cannot be read still classifies as a delta, with an empty fragment.
func decodeDelta(data json.RawMessage) TokenDelta {
	var body struct {
		Chunk json.RawMessage `json:"chunk"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Chunk) == 0 {
		return TokenDelta{}
	}
	var chunk struct {
		ID      string               `json:"id"`
		Type    string               `json:"type"`
		Role    string               `json:"role"`
		Content conversation.Content `json:"content"`
	}
	if err := json.Unmarshal(body.Chunk, &chunk); err != nil {
		return TokenDelta{}
	}
	role := chunk.Type
	if role == "" {
		role = chunk.Role
	}
	return TokenDelta{MessageID: chunk.ID, Role: role, Fragment: chunk.Content}
}

// decodeOutput reads the messages of a phase-end event. The output may be
// {"messages": [...]}, a bare list, or a single message.
func decodeOutput(data json.RawMessage) []conversation.Message {
	var body struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	out := bytes.TrimSpace(body.Output)
	if len(out) == 0 {
		return nil
	}
	if out[0] == '[' {
		return decodeMessages(out)
	}
	if out[0] != '{' {
		return nil
	}
	var wrapper struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(out, &wrapper); err == nil && len(wrapper.Messages) > 0 {
		return decodeMessages(wrapper.Messages)
	}
	var single conversation.Message
	if err := json.Unmarshal(out, &single); err != nil || single.ID == "" {
		return nil
	}
	return []conversation.Message{single}
}

// decodeMessages decodes a JSON array of messages, skipping entries that are
// malformed or have no id.
func decodeMessages(data json.RawMessage) []conversation.Message {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	msgs := make([]conversation.Message, 0, len(items))
	for _, item := range items {
		var m conversation.Message
		if err := json.Unmarshal(item, &m); err != nil || m.ID == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func classifyCustom(data json.RawMessage) Event {
	var head struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Unknown{Type: TypeCustom}
	}
	switch head.Type {
	case uistate.TypeUI:
		var msg uistate.UIMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			return Unknown{Type: TypeCustom, Name: head.Type}
		}
		return CustomUI{Op: uistate.Upsert{Message: msg}}
	case uistate.TypeRemoveUI:
		if head.ID == "" {
			return Unknown{Type: TypeCustom, Name: head.Type}
		}
		return CustomUI{Op: uistate.Remove{ID: head.ID}}
	}
	return Unknown{Type: TypeCustom, Name: head.Type}
}

func classifyValues(data json.RawMessage) Event {
	var body struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return Unknown{Type: TypeValues}
	}
	if len(body.Messages) == 0 {
		return Update{}
	}
	return Authoritative{Messages: decodeMessages(body.Messages)}
}

func classifyUpdates(data json.RawMessage) Event {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return Update{}
	}
	nodes := make([]string, 0, len(body))
	for k := range body {
		nodes = append(nodes, k)
	}
	slices.Sort(nodes)
	return Update{Nodes: nodes}
}

func classifyMetadata(data json.RawMessage) Event {
	var body struct {
		ThreadID string `json:"thread_id"`
		RunID    string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.ThreadID == "" {
		return Unknown{Type: TypeMetadata}
	}
	return ThreadID{ThreadID: body.ThreadID, RunID: body.RunID}
}

func errorMessage(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
