package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/event"
	"github.com/comigor/jarvis-sync/internal/history"
	"github.com/comigor/jarvis-sync/internal/llm"
	"github.com/comigor/jarvis-sync/internal/logger"
	"github.com/comigor/jarvis-sync/internal/metrics"
	"github.com/comigor/jarvis-sync/internal/session"
)

type app struct {
	sess   *session.Session
	hist   *history.Store
	llm    llm.Client
	llmCfg config.LLMConfig

	// one local model turn at a time
	turnMu sync.Mutex
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", a.handleTurn)
	mux.HandleFunc("GET /messages", a.handleMessages)
	mux.HandleFunc("GET /ui", a.handleUI)
	mux.HandleFunc("GET /state", a.handleState)
	mux.HandleFunc("POST /reset", a.handleReset)
	mux.HandleFunc("GET /threads", a.handleThreads)
	mux.HandleFunc("GET /threads/{id}", a.handleThreadMessages)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// main inference endpoint
func (a *app) handleTurn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.L.Error("read body error", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	prompt := string(body)
	if prompt == "" {
		http.Error(w, "empty prompt", http.StatusBadRequest)
		return
	}
	logger.L.Info("inference request", "body", prompt)

	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	a.sess.BeginTurn()
	ctx := session.NewContext(r.Context(), a.sess)
	if _, err := llm.StreamTurn(ctx, a.llm, a.llmCfg, a.sess.Messages(), prompt, func(raw event.Raw) {
		session.FromContext(ctx).Dispatch(raw)
	}); err != nil {
		logger.L.Error("process error", "err", err, "body", prompt)
		http.Error(w, "failed to process request", http.StatusInternalServerError)
		return
	}
	a.persist(r.Context())
	writeJSON(w, a.sess.Messages())
}

// persist stores the reconciled conversation under the announced thread.
func (a *app) persist(ctx context.Context) {
	threadID := a.sess.ThreadID()
	if threadID == "" {
		threadID = a.sess.ID()
	}
	if err := a.hist.SaveMessages(ctx, threadID, a.sess.Messages()); err != nil {
		logger.L.Warn("failed to persist messages", "thread", threadID, "error", err)
	}
}

func (a *app) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.sess.Messages())
}

// handleUI returns the UI attachments, optionally only those of one message.
func (a *app) handleUI(w http.ResponseWriter, r *http.Request) {
	ui := a.sess.UIMessages()
	if id := r.URL.Query().Get("message"); id != "" {
		for k, u := range ui {
			if u.MessageID() != id {
				delete(ui, k)
			}
		}
	}
	writeJSON(w, ui)
}

type stateResponse struct {
	Session  string `json:"session"`
	State    string `json:"state"`
	ThreadID string `json:"thread_id,omitempty"`
	Loading  bool   `json:"loading"`
	Error    string `json:"error,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

func (a *app) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Session:  a.sess.ID(),
		State:    string(a.sess.State()),
		ThreadID: a.sess.ThreadID(),
		Loading:  a.sess.Loading(),
	}
	if err := a.sess.Err(); err != nil {
		resp.Error = err.Error()
	}
	if n, ok := a.sess.Notice(); ok {
		resp.Notice = n.Message
	}
	writeJSON(w, resp)
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	a.sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := a.hist.ListThreads(r.Context())
	if err != nil {
		logger.L.Error("list threads error", "err", err)
		http.Error(w, "failed to list threads", http.StatusInternalServerError)
		return
	}
	writeJSON(w, threads)
}

func (a *app) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.hist.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		logger.L.Error("thread messages error", "err", err)
		http.Error(w, "failed to load thread", http.StatusInternalServerError)
		return
	}
	writeJSON(w, msgs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response error", "err", err)
	}
}
