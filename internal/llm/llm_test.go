package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/event"
)

type fakeStream struct {
	chunks []openai.ChatCompletionStreamResponse
	err    error
	closed bool
}

func (f *fakeStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(f.chunks) == 0 {
		if f.err != nil {
			return openai.ChatCompletionStreamResponse{}, f.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return c, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeClient struct {
	stream *fakeStream
	err    error
	req    openai.ChatCompletionRequest
}

func (f *fakeClient) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func textChunk(id, text string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      id,
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}}},
	}
}

type recorder struct{ frames []event.Raw }

func (r *recorder) emit(raw event.Raw) { r.frames = append(r.frames, raw) }

// reconcile replays frames the way a session does.
func reconcile(frames []event.Raw) (*conversation.Store, []conversation.Message) {
	store := conversation.NewStore()
	var snapshot []conversation.Message
	for _, raw := range frames {
		switch e := event.Classify(raw).(type) {
		case event.TokenDelta:
			store.AppendDeltaAs(e.MessageID, e.Role, e.Fragment)
		case event.PhaseBoundary:
			if e.Phase == event.PhaseEnd {
				snapshot = e.Messages
				store.MergeSnapshot(e.Messages)
			}
		case event.Authoritative:
			store.MergeAuthoritative(e.Messages)
		}
	}
	return store, snapshot
}

func TestRelay_DeltasMatchEndSnapshot(t *testing.T) {
	stream := &fakeStream{chunks: []openai.ChatCompletionStreamResponse{
		textChunk("cmpl-1", "Hel"),
		textChunk("cmpl-1", ""),
		textChunk("cmpl-1", "lo"),
		{ID: "cmpl-1"},
		textChunk("cmpl-1", "!"),
	}}
	rec := &recorder{}

	msg, err := Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "cmpl-1", msg.ID)
	assert.Equal(t, "Hello!", msg.Content.String())

	require.Len(t, rec.frames, 5)
	assert.Equal(t, event.KindPhaseBoundary, event.Classify(rec.frames[0]).Kind())
	assert.Equal(t, event.KindTokenDelta, event.Classify(rec.frames[1]).Kind())

	store, snapshot := reconcile(rec.frames)
	require.Len(t, snapshot, 1)
	got, ok := store.Get("cmpl-1")
	require.True(t, ok)
	assert.Equal(t, snapshot[0].Content.String(), got.Content.String())
	assert.Equal(t, "ai", got.Role)

	req := buildRequest("", store.Messages(), "and then?")
	require.Len(t, req, 3)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req[1].Role)
	assert.Equal(t, "Hello!", req[1].Content)
	assert.Equal(t, 1, store.Len())
}

func TestRelay_MissingIDGetsOne(t *testing.T) {
	rec := &recorder{}
	msg, err := Relay(context.Background(), &fakeStream{chunks: []openai.ChatCompletionStreamResponse{textChunk("", "x")}}, rec.emit)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	delta, ok := event.Classify(rec.frames[1]).(event.TokenDelta)
	require.True(t, ok)
	assert.Equal(t, msg.ID, delta.MessageID)
}

func TestRelay_ToolCallChunks(t *testing.T) {
	zero := 0
	stream := &fakeStream{chunks: []openai.ChatCompletionStreamResponse{
		{ID: "c", Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &zero, ID: "call_1", Function: openai.FunctionCall{Name: "lights", Arguments: `{"on":`}}},
		}}}},
		{ID: "c", Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &zero, Function: openai.FunctionCall{Arguments: `true}`}}},
		}}}},
	}}
	rec := &recorder{}

	_, err := Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	require.Len(t, rec.frames, 4)

	delta, ok := event.Classify(rec.frames[1]).(event.TokenDelta)
	require.True(t, ok)
	require.True(t, delta.Fragment.IsBlocks())
	assert.Equal(t, "tool_call_chunk", delta.Fragment.BlockList()[0].Type)

	end, ok := event.Classify(rec.frames[3]).(event.PhaseBoundary)
	require.True(t, ok)
	require.Len(t, end.Messages, 1)
	var calls []map[string]any
	require.NoError(t, json.Unmarshal(end.Messages[0].Extra["tool_calls"], &calls))
	assert.Equal(t, `{"on":true}`, calls[0]["args"])
	assert.Equal(t, "lights", calls[0]["name"])
}

func TestRelay_ReceiveError(t *testing.T) {
	rec := &recorder{}
	_, err := Relay(context.Background(), &fakeStream{err: errors.New("broken pipe")}, rec.emit)
	require.ErrorContains(t, err, "broken pipe")
}

func TestStreamTurn(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{chunks: []openai.ChatCompletionStreamResponse{textChunk("a1", "fine")}}}
	history := []conversation.Message{
		conversation.NewMessage("u0", "human", "hi"),
		conversation.NewMessage("a0", "ai", "hello"),
		conversation.NewMessage("t0", "tool", "{}"),
	}
	rec := &recorder{}

	msg, err := StreamTurn(context.Background(), client, config.LLMConfig{Model: "m"}, history, "how are you", rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "fine", msg.Content.String())
	assert.True(t, client.stream.closed)

	assert.Equal(t, "m", client.req.Model)
	require.Len(t, client.req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, client.req.Messages[0].Role)
	assert.Equal(t, defaultSystemPrompt, client.req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, client.req.Messages[2].Role)
	assert.Equal(t, "how are you", client.req.Messages[3].Content)

	assert.Equal(t, event.TypeValues, rec.frames[0].Type)
	assert.Equal(t, event.TypeEnd, rec.frames[len(rec.frames)-1].Type)

	store, _ := reconcile(rec.frames)
	msgs := store.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "how are you", msgs[3].Content.String())
	assert.Equal(t, "a1", msgs[4].ID)
}

func TestStreamTurn_OpenFailure(t *testing.T) {
	rec := &recorder{}
	_, err := StreamTurn(context.Background(), &fakeClient{err: errors.New("401")}, config.LLMConfig{}, nil, "x", rec.emit)
	require.Error(t, err)
	assert.Equal(t, event.TypeError, rec.frames[len(rec.frames)-1].Type)
}

func TestOpenAIClient_StreamsOverSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Good", " morning"} {
			b, _ := json.Marshal(textChunk("cmpl-sse", part))
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(config.LLMConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	rec := &recorder{}
	msg, err := StreamTurn(context.Background(), client, config.LLMConfig{Model: "m"}, nil, "hi", rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "cmpl-sse", msg.ID)
	assert.Equal(t, "Good morning", msg.Content.String())
}
