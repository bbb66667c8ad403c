// Package registry holds the in-memory routing table the proxy consults on
// every request. The table is rebuilt wholesale from the store and swapped
// in atomically, so lookups are wait-free and reload effects become visible
// all at once.
package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
)

// Entry is the routing state for one service name.
type Entry struct {
	UpstreamURL string
	Enabled     bool
}

// Registry maps service names to route entries.
type Registry struct {
	routes     atomic.Pointer[map[string]Entry]
	lastReload atomic.Pointer[time.Time]
	logger     logger.Logger
}

func New(log logger.Logger) *Registry {
	r := &Registry{logger: log}
	empty := map[string]Entry{}
	r.routes.Store(&empty)
	return r
}

// Reload reads all services and swaps in a fresh table. Callers are the
// route poller, the check scheduler and admin mutations; their reloads may
// overlap, and each swaps in a complete table (last write wins wholesale).
func (r *Registry) Reload(ctx context.Context, repo domain.Repository) error {
	services, err := repo.ListServices(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]Entry, len(services))
	enabled := 0
	for _, svc := range services {
		next[svc.Name] = Entry{UpstreamURL: svc.UpstreamURL, Enabled: svc.Enabled}
		if svc.Enabled {
			enabled++
		}
	}

	r.routes.Store(&next)
	now := time.Now()
	r.lastReload.Store(&now)

	r.logger.Debug("route registry reloaded",
		logger.Int("total", len(next)),
		logger.Int("enabled", enabled))
	return nil
}

// Lookup resolves a service name. The second return is false when the name
// is not registered at all; a registered-but-disabled service returns its
// entry with Enabled=false.
func (r *Registry) Lookup(name string) (Entry, bool) {
	routes := *r.routes.Load()
	entry, ok := routes[name]
	return entry, ok
}

// Count returns the number of registered routes.
func (r *Registry) Count() int {
	return len(*r.routes.Load())
}

// LastReload returns when the table was last swapped, zero if never.
func (r *Registry) LastReload() time.Time {
	if t := r.lastReload.Load(); t != nil {
		return *t
	}
	return time.Time{}
}
