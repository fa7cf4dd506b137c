package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/voxreach/call-engine/internal/jobstore"
)

// HealthResponse is the /api/v1/health body.
type HealthResponse struct {
	Status               string            `json:"status"`
	Version              string            `json:"version"`
	UptimeSeconds        int64             `json:"uptime_seconds"`
	Checks               map[string]string `json:"checks"`
	ActiveBridgeSessions int               `json:"active_bridge_sessions"`
}

// healthChecker is the narrow slice of *database.DB that health needs.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// jobStorePinger is the narrow slice of jobstore.Store that health needs.
type jobStorePinger interface {
	StreamStats(ctx context.Context, stream string) (jobstore.Stats, error)
}

// sessionCounter is the narrow slice of *bridge.Manager that health needs.
type sessionCounter interface {
	Count() int
}

type HealthHandler struct {
	db        healthChecker
	store     jobStorePinger
	sessions  sessionCounter
	version   string
	startTime time.Time
}

func NewHealthHandler(db healthChecker, store jobStorePinger, sessions sessionCounter, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, store: store, sessions: sessions, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.store != nil {
		if _, err := h.store.StreamStats(r.Context(), "calls"); err != nil {
			checks["job_store"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["job_store"] = "ok"
		}
	}

	activeSessions := 0
	if h.sessions != nil {
		activeSessions = h.sessions.Count()
	}

	resp := HealthResponse{
		Status:               status,
		Version:              h.version,
		UptimeSeconds:        int64(time.Since(h.startTime).Seconds()),
		Checks:               checks,
		ActiveBridgeSessions: activeSessions,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
