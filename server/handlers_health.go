package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/onnwee/vod-excerpt/chzzkapi"
	"github.com/onnwee/vod-excerpt/db"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"data_dir", func() error {
			info, err := os.Stat(h.cfg.DataDir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", h.cfg.DataDir)
			}
			return nil
		}},
		{"processing_loop", func() error {
			last, err := db.GetKV(r.Context(), h.db, "job_excerpt_process_last")
			if err != nil {
				return err
			}
			if last == "" {
				return fmt.Errorf("processing loop has not run yet")
			}
			t, err := time.Parse(time.RFC3339Nano, last)
			if err != nil {
				return fmt.Errorf("bad heartbeat value %q", last)
			}
			if time.Since(t) > 5*time.Minute {
				return fmt.Errorf("processing loop stale since %s", last)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports operational state: queue depth, heartbeat, moving
// averages, and whether session cookies are configured.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := db.CountPending(ctx, h.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	status := map[string]any{
		"queue_depth":     pending,
		"chat_enabled":    h.cfg.ChatEnabled,
		"session_cookies": chzzkapi.HasSessionCookies(h.cfg.NaverCookies),
		"data_dir":        h.cfg.DataDir,
	}
	if last, err := db.GetKV(ctx, h.db, "job_excerpt_process_last"); err == nil && last != "" {
		status["last_cycle"] = last
	}
	if avg, err := db.GetKV(ctx, h.db, "avg_excerpt_ms"); err == nil && avg != "" {
		status["avg_excerpt_ms"] = avg
	}
	writeJSON(w, http.StatusOK, status)
}
