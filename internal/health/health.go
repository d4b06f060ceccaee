// Package health serves liveness and readiness endpoints on the client's
// local metrics listener.
//
// /healthz reports liveness: the process is up and able to serve HTTP,
// whether or not a transcription server is reachable. /readyz reports
// readiness to stream audio and passes only while every registered
// [Check] does — above all the streaming connection, which spends time in
// reconnect backoff whenever the server drops it.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map carrying the per-check verdicts.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// readyCheckTimeout bounds a single readiness check. Everything checked
// here is in-process or on the local filesystem, so a check that needs
// longer is itself a failure worth surfacing.
const readyCheckTimeout = 2 * time.Second

// A Check reports on one dependency of the streaming pipeline.
type Check struct {
	// Name keys the verdict in the /readyz response, e.g.
	// "server_connection" or "history_dir".
	Name string

	// Run returns nil while the dependency can support streaming. It must
	// honor ctx cancellation.
	Run func(ctx context.Context) error
}

// report is the response body for both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The check list is fixed at
// construction time, so it is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New builds a [Handler] that evaluates the given checks, in order, on
// every /readyz request.
func New(checks ...Check) *Handler {
	return &Handler{checks: slices.Clone(checks)}
}

// Healthz always answers 200. A disconnected client is alive; readiness
// is /readyz's question.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers 200 only while every check passes and 503 otherwise.
// Each check runs under a [readyCheckTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := make(map[string]string, len(h.checks))
	body := report{Status: "ok", Checks: verdicts}
	status := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := c.Run(ctx)
		cancel()

		if err != nil {
			verdicts[c.Name] = "fail: " + err.Error()
			body.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			verdicts[c.Name] = "ok"
		}
	}

	writeJSON(w, status, body)
}

// Register mounts both endpoints on mux alongside /metrics.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
