package event

import "encoding/json"

// Frame types of the stream envelope.
const (
	TypeEvents   = "events"
	TypeCustom   = "custom"
	TypeValues   = "values"
	TypeUpdates  = "updates"
	TypeMetadata = "metadata"
	TypeEnd      = "end"
	TypeError    = "error"
)

// Raw is one frame as delivered by a subscription: {"type": ..., "data": ...}.
type Raw struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// lifecycleData is the body of an "events" frame.
type lifecycleData struct {
	Event string          `json:"event"`
	Name  string          `json:"name,omitempty"`
	RunID string          `json:"run_id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

func build(typ string, data any) Raw {
	if data == nil {
		return Raw{Type: typ}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Raw{Type: typ}
	}
	return Raw{Type: typ, Data: b}
}

// Lifecycle builds an "events" frame for a lifecycle event such as
// on_chat_model_stream.
func Lifecycle(name string, data any) Raw {
	inner, err := json.Marshal(data)
	if err != nil || data == nil {
		inner = json.RawMessage(`{}`)
	}
	return build(TypeEvents, lifecycleData{Event: name, Data: inner})
}

// Values builds a "values" frame carrying the authoritative message list.
func Values(messages any) Raw {
	return build(TypeValues, map[string]any{"messages": messages})
}

// Custom builds a "custom" frame.
func Custom(data any) Raw {
	return build(TypeCustom, data)
}

// Metadata builds a "metadata" frame announcing a thread and run.
func Metadata(threadID, runID string) Raw {
	return build(TypeMetadata, map[string]string{"thread_id": threadID, "run_id": runID})
}

// EndFrame builds the end-of-stream frame.
func EndFrame() Raw {
	return Raw{Type: TypeEnd}
}

// Failure builds an "error" frame.
func Failure(message string) Raw {
	return build(TypeError, map[string]string{"message": message})
}
