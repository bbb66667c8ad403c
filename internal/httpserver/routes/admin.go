package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
	"github.com/mcp-guardian/guardian/internal/httpserver/handlers"
	"github.com/mcp-guardian/guardian/internal/httpserver/mw"
)

func init() { Register(registerAdmin) }

func registerAdmin(r chi.Router, d deps.Deps) {
	r.Route("/api/admin", func(r chi.Router) {
		if d.AdminDisabled {
			// Operations still exist in-process; the router just refuses.
			r.HandleFunc("/*", refuseAdmin)
			return
		}

		r.Use(mw.AllowOnlyCIDRS(d.AdminAllowedCIDRs, d.TrustProxy, d.Logger))
		r.Use(mw.RateLimit(mw.RateLimitConfig{
			Burst:         30,
			RefillPerMin:  60,
			MaxEntries:    1024,
			SweepInterval: time.Minute,
			IdleTTL:       15 * time.Minute,
			TrustProxy:    d.TrustProxy,
		}))
		r.Use(mw.BasicAuth(d.AdminPasswordHash, d.Logger))

		r.Post("/services", handlers.CreateService(d))
		r.Get("/services", handlers.ListServices(d))
		r.Get("/services/{name}", handlers.GetService(d))
		r.Patch("/services/{name}", handlers.UpdateService(d))
		r.Delete("/services/{name}", handlers.DeleteService(d))
		r.Get("/services/{name}/snapshots", handlers.ListSnapshots(d))
		r.Get("/services/{name}/snapshots/latest", handlers.LatestSnapshot(d))
		r.Get("/services/{name}/snapshots/{id}", handlers.GetSnapshot(d))
		r.Get("/services/{name}/diff", handlers.DiffService(d))
		r.Post("/services/{name}/approve", handlers.ApproveLatest(d))
		r.Get("/services/{name}/client-config", handlers.ClientConfig(d))
	})
}

func refuseAdmin(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"Admin surface disabled"}`))
}
