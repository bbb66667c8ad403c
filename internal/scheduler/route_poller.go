package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/registry"
)

// RoutePoller periodically rebuilds the route registry from the store so
// changes made outside this process (or missed reload triggers) eventually
// propagate. Idempotent per tick.
type RoutePoller struct {
	repo     domain.Repository
	registry *registry.Registry
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewRoutePoller(
	repo domain.Repository,
	reg *registry.Registry,
	log logger.Logger,
	interval time.Duration,
) *RoutePoller {
	return &RoutePoller{
		repo:     repo,
		registry: reg,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start loads the registry once, then refreshes it every interval until
// Stop is called or ctx is cancelled.
func (rp *RoutePoller) Start(ctx context.Context) error {
	if err := rp.registry.Reload(ctx, rp.repo); err != nil {
		return fmt.Errorf("initial registry load failed: %w", err)
	}

	ticker := time.NewTicker(rp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := rp.registry.Reload(ctx, rp.repo); err != nil {
					rp.logger.Error("failed to reload route registry",
						logger.Error(err))
				}
			case <-rp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the poller.
func (rp *RoutePoller) Stop() {
	close(rp.stopCh)
}
