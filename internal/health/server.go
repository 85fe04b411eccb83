// Package health serves the liveness/readiness/metrics HTTP endpoints
// (SPEC_FULL.md C9), grounded on the teacher's internal/api/router.go and
// internal/api/handlers/health.go.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/virtual-origami/pypersonnelloc/internal/metrics"
)

// Status is the mutable liveness/readiness snapshot the service loop
// updates as trackers connect, reload, or tear down.
type Status struct {
	mu       sync.RWMutex
	trackers map[string]bool
}

// NewStatus returns an empty status with no trackers marked ready.
func NewStatus() *Status {
	return &Status{trackers: make(map[string]bool)}
}

// SetReady marks a tracker's readiness. A tracker becomes ready once its
// transports are connected and it is serving the ingest loop.
func (s *Status) SetReady(tracker string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[tracker] = ready
	metrics.Get().TrackerReady.WithLabelValues(tracker).Set(boolToFloat(ready))
}

// Remove drops a tracker from the status set, e.g. on config reload.
func (s *Status) Remove(tracker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, tracker)
}

// Snapshot returns a copy of the current per-tracker readiness map.
func (s *Status) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.trackers))
	for k, v := range s.trackers {
		out[k] = v
	}
	return out
}

// AllReady reports whether every known tracker is ready and at least one
// tracker is registered.
func (s *Status) AllReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.trackers) == 0 {
		return false
	}
	for _, ready := range s.trackers {
		if !ready {
			return false
		}
	}
	return true
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRouter builds the health/readiness/metrics HTTP handler.
func NewRouter(status *Status) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"service":   "personnel-localization",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := status.Snapshot()
		code := http.StatusOK
		if !status.AllReady() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"trackers": snapshot,
		})
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
