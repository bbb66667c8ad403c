package handlers

import (
	"net/http"

	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
	"github.com/mcp-guardian/guardian/internal/logger"
)

type readyzResponse struct {
	Ready  bool `json:"ready"`
	Routes int  `json:"routes"`
}

// Readyz reports readiness: the store answers and the route registry has
// been loaded at least once.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Repo.Ping(r.Context()); err != nil {
			d.Logger.Warn("readiness check failed: store unreachable", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false})
			return
		}
		if d.Registry.LastReload().IsZero() {
			respondJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false})
			return
		}
		respondJSON(w, http.StatusOK, readyzResponse{
			Ready:  true,
			Routes: d.Registry.Count(),
		})
	}
}
