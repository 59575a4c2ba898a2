package api

import (
	"net/http"
	"sync"

	"github.com/opensqt/perpcore/internal/core"
)

// HealthManager aggregates health status from registered component checks.
// Generalized from a single-exchange-adapter consumer to the full pipeline:
// exchange connectivity, store reachability and an always-passing dispatcher
// check register here; the reconcile loop has no check of its own.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager builds an empty HealthManager.
func NewHealthManager(logger core.ILogger) *HealthManager {
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds a new health check for a component, replacing any existing
// check under the same name.
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus runs every registered check and reports its outcome.
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
		} else {
			status[component] = "healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check currently passes.
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

var _ core.HealthMonitor = (*HealthManager)(nil)

// handleHealth serves the component health aggregation.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetStatus()
	code := http.StatusOK
	if !s.health.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"healthy":    s.health.IsHealthy(),
		"components": status,
	})
}
