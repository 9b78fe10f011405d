package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/jarvis-sync/internal/config"
	"github.com/comigor/jarvis-sync/internal/history"
	"github.com/comigor/jarvis-sync/internal/llm"
	"github.com/comigor/jarvis-sync/internal/logger"
	"github.com/comigor/jarvis-sync/internal/session"
	"github.com/comigor/jarvis-sync/internal/transport"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hist := history.Open(cfg.History.DBPath)
	defer hist.Close()

	sess, err := session.New(cfg.Session,
		session.WithThreadLister(hist),
		session.WithThreadsRefreshed(func(threads []history.Thread) {
			logger.L.Info("thread list refreshed", "threads", len(threads))
		}),
	)
	if err != nil {
		logger.L.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	// The probe only informs; streaming starts regardless of its outcome.
	go func() { _ = sess.Probe(ctx) }()

	if cfg.Session.StreamURL != "" {
		go follow(ctx, sess, cfg.Session)
	}

	app := &app{sess: sess, hist: hist, llm: llm.NewClient(cfg.LLM), llmCfg: cfg.LLM}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.L.Info("starting server", "address", srv.Addr, "session", sess.ID())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L.Error("failed to start server", "error", err)
	}
}

// loadConfig reads the configuration, applies its log level and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// follow consumes the remote agent stream until it ends or ctx is done.
func follow(ctx context.Context, sess *session.Session, cfg config.SessionConfig) {
	sub, err := transport.Dial(ctx, cfg.StreamURL, cfg.APIKey)
	if err != nil {
		logger.L.Error("failed to open stream", "url", cfg.StreamURL, "error", err)
		return
	}
	defer sub.Close()

	if err := sess.Consume(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
		logger.L.Warn("stream ended with error", "error", err)
		return
	}
	logger.L.Info("stream ended")
}
