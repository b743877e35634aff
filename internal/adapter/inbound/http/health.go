package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/openmcpd/openmcpd/internal/domain/event"
	"github.com/openmcpd/openmcpd/internal/domain/session"
	"github.com/openmcpd/openmcpd/internal/service"
)

// HealthResponse is the JSON body of the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports component health. Components may be nil when not
// configured.
type HealthChecker struct {
	sessions *session.HTTPManager
	events   *event.Store
	audit    *service.AuditService
	version  string
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(sessions *session.HTTPManager, events *event.Store, auditSvc *service.AuditService, version string) *HealthChecker {
	return &HealthChecker{
		sessions: sessions,
		events:   events,
		audit:    auditSvc,
		version:  version,
	}
}

// Check runs every component check.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessions != nil {
		checks["sessions"] = fmt.Sprintf("ok: %d active", h.sessions.Count())
	} else {
		checks["sessions"] = "not configured"
	}

	if h.events != nil {
		st := h.events.Stats()
		checks["event_store"] = fmt.Sprintf("ok: %d/%d", st.Size, st.MaxEvents)
	} else {
		checks["event_store"] = "not configured"
	}

	if h.audit != nil {
		if drops := h.audit.DroppedRecords(); drops > 0 {
			// Sustained drops mean the store cannot keep up.
			checks["audit"] = fmt.Sprintf("degraded: %d dropped", drops)
			healthy = false
		} else {
			checks["audit"] = "ok"
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns the /health endpoint handler.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
