package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devrev/gamecatalog/internal/model"
	"go.uber.org/zap"
)

// PendingCounter reports the size of the recovery log
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	prober  *NodeProber
	pending PendingCounter
	logger  *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Pending   *int              `json:"pending_entries,omitempty"`
}

// NewHealthChecker creates a new health checker. pending may be nil.
func NewHealthChecker(prober *NodeProber, pending PendingCounter, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		prober:  prober,
		pending: pending,
		logger:  logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler reports per node reachability. The service is ready while
// Central answers; an unreachable partition node only degrades it, since its
// writes are deferred to the recovery log.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	degraded := false
	centralUp := true

	for role, err := range h.prober.ProbeAll(ctx) {
		if err != nil {
			h.logger.Warn("Node health check failed",
				zap.String("node", string(role)),
				zap.Error(err))
			checks[string(role)] = "unreachable: " + err.Error()
			degraded = true
			if role == model.Central {
				centralUp = false
			}
			continue
		}
		checks[string(role)] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	if h.pending != nil {
		if n, err := h.pending.PendingCount(ctx); err != nil {
			checks["recovery_log"] = "unreadable: " + err.Error()
			degraded = true
		} else {
			status.Pending = &n
			checks["recovery_log"] = "healthy"
		}
	}

	code := http.StatusOK
	switch {
	case !centralUp:
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	case degraded:
		status.Status = "degraded"
	default:
		status.Status = "ready"
	}

	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
