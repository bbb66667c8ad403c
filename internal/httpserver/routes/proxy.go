package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
	"github.com/mcp-guardian/guardian/internal/httpserver/handlers"
)

func init() { Register(registerProxy) }

// The wildcard dispatch handler consults the in-memory registry, so routes
// enable and disable without touching the router.
func registerProxy(r chi.Router, d deps.Deps) {
	h := handlers.Proxy(d)
	r.Post("/{service}/mcp", h)
	r.Get("/{service}/mcp", h)
	r.Delete("/{service}/mcp", h)
}
