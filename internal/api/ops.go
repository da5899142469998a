package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/anttp-gateway/internal/metrics"
	"github.com/JakeFAU/anttp-gateway/internal/scheduler"
)

// StatsSource reports scheduler state. scheduler.Scheduler satisfies it.
type StatsSource interface {
	Stats() scheduler.Stats
}

// SessionCounter reports open channel sessions. channel.Handler satisfies it.
type SessionCounter interface {
	Sessions() int
}

// NewOpsHandler builds the router for the operations listener: Prometheus
// scraping plus liveness and readiness probes.
func NewOpsHandler(stats StatsSource, sessions SessionCounter) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		body := readyDTO{Status: "ready"}
		if stats != nil {
			st := stats.Stats()
			body.Queued = st.Queued
			body.Active = st.Active
			body.MaxConcurrent = st.MaxConcurrent
		}
		if sessions != nil {
			body.Sessions = sessions.Sessions()
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

type readyDTO struct {
	Status        string `json:"status"`
	Queued        int    `json:"queued"`
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
	Sessions      int    `json:"sessions"`
}
