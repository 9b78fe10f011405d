package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_UnmarshalKeepsOpaqueFields(t *testing.T) {
	raw := `{"id":"m1","type":"ai","content":"hello","tool_calls":[{"id":"c1"}],"response_metadata":{"model":"x"}}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, "m1", m.ID)
	require.Equal(t, "ai", m.Role)
	require.Equal(t, "hello", m.Content.String())
	require.Contains(t, m.Extra, "tool_calls")
	require.Contains(t, m.Extra, "response_metadata")

	out, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, raw, string(out))
}

func TestMessage_RoleFallsBackToRoleField(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","role":"user","content":[{"type":"text","text":"hi"}]}`), &m))
	require.Equal(t, "user", m.Role)
	require.True(t, m.Content.IsBlocks())
	require.Equal(t, "hi", m.Content.String())
}

// TestMessage_RoundTripKeepsRoleField verifies a role read from "role" is
// written back under "role", and one read from "type" stays under "type".
func TestMessage_RoundTripKeepsRoleField(t *testing.T) {
	for _, raw := range []string{
		`{"id":"x","role":"user","content":"hi"}`,
		`{"id":"x","type":"human","content":"hi"}`,
		`{"id":"x","type":"ai","role":"assistant","content":"hi"}`,
	} {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		out, err := json.Marshal(m.Clone())
		require.NoError(t, err)
		require.JSONEq(t, raw, string(out))
	}

	out, err := json.Marshal(NewMessage("n", "ai", "x"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"n","type":"ai","content":"x"}`, string(out))
}

func TestContent_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		blocks  bool
		text    string
		wantErr bool
	}{
		{name: "string", in: `"abc"`, text: "abc"},
		{name: "null", in: `null`, text: ""},
		{name: "empty array", in: `[]`, blocks: true},
		{name: "blocks", in: `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, blocks: true, text: "ab"},
		{name: "number", in: `42`, wantErr: true},
		{name: "object", in: `{"text":"a"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.in), &c)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.blocks, c.IsBlocks())
			require.Equal(t, tt.text, c.String())
		})
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := Message{ID: "a", Content: Blocks(TextBlock("x")), Extra: map[string]json.RawMessage{"k": json.RawMessage(`1`)}}
	c := m.Clone()
	c.Extra["k"] = json.RawMessage(`2`)
	c.Content = c.Content.Append(Blocks(TextBlock("y")))

	require.Equal(t, json.RawMessage(`1`), m.Extra["k"])
	require.Equal(t, "x", m.Content.String())
}
