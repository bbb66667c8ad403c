package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps error kinds onto admin-facing status codes.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrDuplicateName),
		errors.Is(err, domain.ErrSnapshotAmbiguous):
		status = http.StatusBadRequest
	case errors.Is(err, mcpclient.ErrUpstreamUnreachable),
		errors.Is(err, mcpclient.ErrUpstreamTimeout),
		errors.Is(err, mcpclient.ErrUpstreamProtocol):
		// Admin-triggered snapshots that fail are the caller's problem to
		// fix (bad URL, dead upstream), not a server fault.
		status = http.StatusBadRequest
	default:
		var rpcErr *mcpclient.JSONRPCError
		if errors.As(err, &rpcErr) {
			status = http.StatusBadRequest
		}
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
