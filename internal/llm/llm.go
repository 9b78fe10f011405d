// Package llm produces agent stream frames from a local OpenAI-compatible
// chat completion stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/event"
	"github.com/comigor/jarvis-sync/internal/logger"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

// Stream is a chunked completion. Recv returns io.EOF after the last chunk.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client opens completion streams; it is easy to mock in tests.
type Client interface {
	OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// OpenAIClient adapts go-openai to Client.
type OpenAIClient struct {
	c *openai.Client
}

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{c: openai.NewClientWithConfig(oc)}
}

// OpenStream starts a streaming chat completion.
func (o *OpenAIClient) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	req.Stream = true
	stream, err := o.c.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Emit receives each produced frame.
type Emit func(event.Raw)

type toolCall struct {
	ID   string
	Name string
	Args strings.Builder
}

// Relay reads r to the end and emits one on_chat_model_start, one
// on_chat_model_stream per text or tool-call delta and one on_chat_model_end
// carrying the assembled message, which is also returned.
func Relay(ctx context.Context, r Stream, emit Emit) (conversation.Message, error) {
	var (
		id    string
		text  strings.Builder
		calls = map[int]*toolCall{}
	)
	emit(event.Lifecycle("on_chat_model_start", nil))

	for {
		if err := ctx.Err(); err != nil {
			return conversation.Message{}, err
		}
		chunk, err := r.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return conversation.Message{}, fmt.Errorf("receive chunk: %w", err)
		}
		if id == "" {
			id = chunk.ID
			if id == "" {
				id = uuid.NewString()
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			emit(streamFrame(id, delta.Content))
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			acc, ok := calls[index]
			if !ok {
				acc = &toolCall{}
				calls[index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.Args.WriteString(tc.Function.Arguments)
			emit(streamFrame(id, []map[string]any{{
				"type":  "tool_call_chunk",
				"id":    tc.ID,
				"name":  tc.Function.Name,
				"args":  tc.Function.Arguments,
				"index": index,
			}}))
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	msg := conversation.NewMessage(id, "ai", text.String())
	out := map[string]any{"id": id, "type": "ai", "content": text.String()}
	if len(calls) > 0 {
		out["tool_calls"] = assembleCalls(calls)
	}
	emit(event.Lifecycle("on_chat_model_end", map[string]any{"output": out}))
	logger.L.Debug("completion relayed", "message", id, "chars", text.Len(), "tool_calls", len(calls))
	return msg, nil
}

func streamFrame(id string, content any) event.Raw {
	return event.Lifecycle("on_chat_model_stream", map[string]any{
		"chunk": map[string]any{"id": id, "type": "ai", "content": content},
	})
}

func assembleCalls(calls map[int]*toolCall) []map[string]any {
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]map[string]any, 0, len(idx))
	for _, i := range idx {
		c := calls[i]
		out = append(out, map[string]any{"id": c.ID, "name": c.Name, "args": c.Args.String()})
	}
	return out
}

// StreamTurn runs one user turn: it announces the user message as part of
// the authoritative list, relays the model's answer and ends the stream.
func StreamTurn(ctx context.Context, client Client, cfg config.LLMConfig, history []conversation.Message, prompt string, emit Emit) (conversation.Message, error) {
	user := conversation.NewMessage(uuid.NewString(), "human", prompt)
	emit(event.Values(append(cloneAll(history), user)))

	stream, err := client.OpenStream(ctx, openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: buildRequest(cfg.SystemPrompt, history, prompt),
	})
	if err != nil {
		logger.L.Error("LLM call failed", "error", err)
		emit(event.Failure(err.Error()))
		return conversation.Message{}, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	msg, err := Relay(ctx, stream, emit)
	if err != nil {
		emit(event.Failure(err.Error()))
		return conversation.Message{}, err
	}
	emit(event.EndFrame())
	return msg, nil
}

func cloneAll(msgs []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// buildRequest flattens the conversation into chat completion messages.
// Tool results are dropped: no tool is ever executed on this side.
func buildRequest(systemPrompt string, history []conversation.Message, prompt string) []openai.ChatCompletionMessage {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	for _, m := range history {
		role, ok := chatRole(m.Role)
		if !ok {
			logger.L.Debug("message skipped in request", "message", m.ID, "role", m.Role)
			continue
		}
		text := m.Content.String()
		if text == "" {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

func chatRole(role string) (string, bool) {
	switch role {
	case "human", "user":
		return openai.ChatMessageRoleUser, true
	case "ai", "assistant":
		return openai.ChatMessageRoleAssistant, true
	case "system":
		return openai.ChatMessageRoleSystem, true
	}
	return "", false
}
