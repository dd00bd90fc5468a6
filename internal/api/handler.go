// Package api exposes the runner's in-run status and metrics over HTTP.
// The endpoint is optional; CI setups scrape /metrics while a long scenario
// is in flight and poll /v1/run for progress.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loglos/raiden/internal/runner"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	runner *runner.Runner
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(r *runner.Runner) http.Handler {
	h := &Handler{runner: r, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /v1/run", h.runStatus)
	h.mux.HandleFunc("GET /v1/run/tasks", h.runTasks)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// GET /v1/run returns the status of the current or most recent run.
func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Status())
}

type taskRow struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Detail   string `json:"detail,omitempty"`
}

// GET /v1/run/tasks returns per-task outcomes of the most recent finished run.
func (h *Handler) runTasks(w http.ResponseWriter, r *http.Request) {
	rep := h.runner.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no finished run yet")
		return
	}
	var rows []taskRow
	for _, res := range rep.Root.Flatten() {
		rows = append(rows, taskRow{
			Path:     res.Path,
			Kind:     string(res.Kind),
			Status:   string(res.Status),
			Duration: res.Duration.Round(time.Millisecond).String(),
			Detail:   res.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  rep.RunID,
		"verdict": rep.Verdict(),
		"tasks":   rows,
	})
}

// GET /healthz always answers 200, for liveness probes.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v with the given status. An encoding failure after the
// status line is out cannot be reported to the client anymore.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

// writeError wraps msg in the error envelope shared by all endpoints.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		}
	})
}
