package conversation

import (
	"encoding/json"
	"maps"
)

// Message is one turn or chunk of a conversation. Only ID and Content are
// interpreted; everything else is carried through untouched.
type Message struct {
	ID      string
	Role    string
	Content Content
	// Extra holds every other field of the wire object, verbatim.
	Extra map[string]json.RawMessage

	// roleKey is the wire field the role was read from; empty means "type".
	roleKey string
}

// NewMessage builds a message with text content.
func NewMessage(id, role, text string) Message {
	return Message{ID: id, Role: role, Content: Text(text)}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Content = m.Content.clone()
	if m.Extra != nil {
		out.Extra = maps.Clone(m.Extra)
	}
	return out
}

// UnmarshalJSON reads id, content and the role (from "type" or "role") and
// keeps every other field in Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var out Message
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return err
		}
		delete(fields, "id")
	}
	if raw, ok := fields["content"]; ok {
		if err := json.Unmarshal(raw, &out.Content); err != nil {
			return err
		}
		delete(fields, "content")
	}
	for _, key := range []string{"type", "role"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var role string
		if err := json.Unmarshal(raw, &role); err == nil && out.Role == "" {
			out.Role = role
			out.roleKey = key
			delete(fields, key)
		}
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*m = out
	return nil
}

// MarshalJSON writes the message back in its wire shape. The role goes under
// the field it was read from, "type" by default.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["id"] = m.ID
	out["content"] = m.Content
	if m.Role != "" {
		key := m.roleKey
		if key == "" {
			key = "type"
		}
		out[key] = m.Role
	}
	return json.Marshal(out)
}
