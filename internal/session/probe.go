package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/comigor/jarvis-sync/internal/metrics"
)

// Probe checks the agent endpoint with GET <api_url>/info. The outcome only
// drives the lifecycle and the user notice; the store is never touched.
func (s *Session) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	err := s.probe(ctx)
	metrics.ObserveProbe(err == nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Warn("health probe failed", "error", err)
		s.noticeLocked("warning", fmt.Sprintf("Could not reach %s: %v", s.cfg.APIURL, err))
		s.fireLocked(TriggerProbeFailed)
		return fmt.Errorf("health probe: %w", err)
	}
	s.log.Debug("health probe passed")
	s.fireLocked(TriggerProbeSucceeded)
	return nil
}

func (s *Session) probe(ctx context.Context) error {
	url := strings.TrimRight(s.cfg.APIURL, "/") + "/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", s.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
