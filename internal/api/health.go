package api

import (
	"context"
	"net/http"
	"time"

	"github.com/uzhavan/uzhavan/internal/log"
)

// Pinger is the liveness probe surface of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// health is a liveness probe for container orchestrators.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the database is reachable. A nil pinger
// degrades to a plain liveness response.
func readiness(pinger Pinger, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("readiness probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "unavailable", "reason": "database unreachable"}, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}
