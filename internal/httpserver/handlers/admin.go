package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
)

type createServiceRequest struct {
	Name                  string `json:"name"`
	UpstreamURL           string `json:"upstream_url"`
	Enabled               *bool  `json:"enabled"`
	CheckFrequencyMinutes int    `json:"check_frequency_minutes"`
}

type serviceCreatedResponse struct {
	Service  *domain.Service  `json:"service"`
	Snapshot *domain.Snapshot `json:"snapshot"`
}

func CreateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		enabled := req.Enabled == nil || *req.Enabled

		svc, snap, err := d.Admin.CreateService(r.Context(), req.Name, req.UpstreamURL, enabled, req.CheckFrequencyMinutes)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, serviceCreatedResponse{Service: svc, Snapshot: snap})
	}
}

func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := d.Admin.ListServices(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		if services == nil {
			services = []*domain.ServiceOverview{}
		}
		respondJSON(w, http.StatusOK, services)
	}
}

func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := d.Admin.GetService(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, detail)
	}
}

func UpdateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch domain.ServicePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		svc, err := d.Admin.UpdateService(r.Context(), chi.URLParam(r, "name"), patch)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, svc)
	}
}

func DeleteService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := d.Admin.DeleteService(r.Context(), name); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
	}
}

func ListSnapshots(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		snaps, err := d.Admin.ListSnapshots(r.Context(), chi.URLParam(r, "name"), limit)
		if err != nil {
			respondError(w, err)
			return
		}
		if snaps == nil {
			snaps = []*domain.Snapshot{}
		}
		respondJSON(w, http.StatusOK, snaps)
	}
}

func LatestSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Admin.LatestSnapshot(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	}
}

func GetSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot id"})
			return
		}

		snap, err := d.Admin.GetSnapshot(r.Context(), chi.URLParam(r, "name"), id)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	}
}

func DiffService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		diff, err := d.Admin.Diff(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, diff)
	}
}

type approveResponse struct {
	ServiceName string                `json:"service_name"`
	SnapshotID  int64                 `json:"snapshot_id"`
	NewStatus   domain.ApprovalStatus `json:"new_status"`
	Enabled     bool                  `json:"enabled"`
}

func ApproveLatest(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		snap, err := d.Admin.ApproveLatest(r.Context(), name)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, approveResponse{
			ServiceName: name,
			SnapshotID:  snap.ID,
			NewStatus:   snap.Status,
			Enabled:     true,
		})
	}
}

func ClientConfig(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := d.Admin.ClientConfig(r.Context(), chi.URLParam(r, "name"), d.BaseURL)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cfg)
	}
}
