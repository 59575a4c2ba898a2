package api

import (
	"net/http"
	"sync"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
)

// apiKeyHeader carries the operator credential as a plain HTTP header.
const apiKeyHeader = "X-Api-Key"

// apiKeyValidator gates the operator/read HTTP surface behind a shared key
// set, generalized from a gRPC per-call interceptor to a net/http
// middleware wrapping liveserver's mux-based routing.
type apiKeyValidator struct {
	mu        sync.RWMutex
	validKeys map[string]bool
	logger    core.ILogger
}

func newAPIKeyValidator(keys []config.Secret, logger core.ILogger) *apiKeyValidator {
	v := &apiKeyValidator{
		validKeys: make(map[string]bool, len(keys)),
		logger:    logger.WithField("component", "auth"),
	}
	for _, k := range keys {
		if k != "" {
			v.validKeys[string(k)] = true
		}
	}
	return v
}

// enabled reports whether any key has been configured; an empty key set
// disables the check entirely (e.g. when a reverse proxy already enforces
// auth in front of this process).
func (v *apiKeyValidator) enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.validKeys) > 0
}

func (v *apiKeyValidator) valid(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return key != "" && v.validKeys[key]
}

// wrap enforces apiKeyHeader on next when the validator is enabled,
// leaving next untouched otherwise.
func (v *apiKeyValidator) wrap(next http.HandlerFunc) http.HandlerFunc {
	if !v.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !v.valid(r.Header.Get(apiKeyHeader)) {
			v.logger.Warn("rejected unauthenticated operator request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "missing or invalid api key")
			return
		}
		next(w, r)
	}
}
