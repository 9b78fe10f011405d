package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/event"
	"github.com/comigor/jarvis-sync/internal/history"
	"github.com/comigor/jarvis-sync/internal/llm"
	"github.com/comigor/jarvis-sync/internal/session"
	"github.com/comigor/jarvis-sync/internal/uistate"
)

type cannedStream struct {
	id    string
	parts []string
}

func (c *cannedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(c.parts) == 0 {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	p := c.parts[0]
	c.parts = c.parts[1:]
	return openai.ChatCompletionStreamResponse{
		ID:      c.id,
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: p}}},
	}, nil
}

func (c *cannedStream) Close() error { return nil }

type cannedClient struct {
	requests []openai.ChatCompletionRequest
}

func (c *cannedClient) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (llm.Stream, error) {
	c.requests = append(c.requests, req)
	return &cannedStream{id: fmt.Sprintf("reply-%d", len(c.requests)), parts: []string{"it ", "works"}}, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	hist := history.Open(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { _ = hist.Close() })
	sess, err := session.New(config.SessionConfig{APIURL: "http://agent.invalid"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return &app{sess: sess, hist: hist, llm: &cannedClient{}}
}

func TestTurnPersistsAndReturnsMessages(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader("does it work?"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []conversation.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "human", msgs[0].Role)
	require.Equal(t, "it works", msgs[1].Content.String())

	stored, err := a.hist.Messages(context.Background(), a.sess.ID())
	require.NoError(t, err)
	require.Len(t, stored, 2)

	resp2, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var st stateResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	require.Equal(t, string(session.StateIdle), st.State)
}

// TestSecondTurnSeesFirstReply verifies a streamed reply is part of the next
// turn's request.
func TestSecondTurnSeesFirstReply(t *testing.T) {
	a := newTestApp(t)
	client := a.llm.(*cannedClient)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	for _, prompt := range []string{"capital of France?", "and Germany?"} {
		resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader(prompt))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	require.Len(t, second, 4)
	require.Equal(t, openai.ChatMessageRoleUser, second[1].Role)
	require.Equal(t, "capital of France?", second[1].Content)
	require.Equal(t, openai.ChatMessageRoleAssistant, second[2].Role)
	require.Equal(t, "it works", second[2].Content)
	require.Equal(t, "and Germany?", second[3].Content)
}

func TestResetAndThreads(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/reset", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, a.sess.Messages())

	resp, err = http.Get(srv.URL + "/threads")
	require.NoError(t, err)
	defer resp.Body.Close()
	var threads []history.Thread
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&threads))
	require.Len(t, threads, 1)
	require.Equal(t, a.sess.ID(), threads[0].ID)
	require.Equal(t, 2, threads[0].MessageCount)

	resp, err = http.Get(srv.URL + "/threads/" + a.sess.ID())
	require.NoError(t, err)
	defer resp.Body.Close()
	var stored []conversation.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	require.Len(t, stored, 2)
	require.Equal(t, "hello", stored[0].Content.String())
}

func TestUIFilteredByMessage(t *testing.T) {
	a := newTestApp(t)
	a.sess.Dispatch(event.Custom(map[string]any{"type": "ui", "id": "w1", "name": "chart", "metadata": map[string]any{"message_id": "m1"}}))
	a.sess.Dispatch(event.Custom(map[string]any{"type": "ui", "id": "w2", "name": "map", "metadata": map[string]any{"message_id": "m2"}}))

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui?message=m1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ui map[string]uistate.UIMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ui))
	require.Len(t, ui, 1)
	require.Equal(t, "chart", ui["w1"].Name)

	rec = httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui", nil))
	ui = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ui))
	require.Len(t, ui, 2)
}

func TestEmptyPromptRejected(t *testing.T) {
	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "jarvis_sync_thread_refresh_failures_total")
}
