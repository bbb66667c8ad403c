package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/registry"
	"github.com/mcp-guardian/guardian/internal/snapshot"
)

// CheckScheduler re-snapshots due services and compares fingerprints
// against the approved baseline. On drift it disables the route; on a
// failed snapshot it writes nothing, so flapping upstreams leave gaps in
// the audit trail but never spurious disables.
type CheckScheduler struct {
	repo        domain.Repository
	snapshotter *snapshot.Snapshotter
	registry    *registry.Registry
	logger      logger.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

func NewCheckScheduler(
	repo domain.Repository,
	snap *snapshot.Snapshotter,
	reg *registry.Registry,
	log logger.Logger,
	interval time.Duration,
) *CheckScheduler {
	return &CheckScheduler{
		repo:        repo,
		snapshotter: snap,
		registry:    reg,
		logger:      log,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic check loop.
func (cs *CheckScheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(cs.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cs.RunChecks(ctx)
			case <-cs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler.
func (cs *CheckScheduler) Stop() {
	close(cs.stopCh)
}

// RunChecks performs one tick: snapshot every due service sequentially,
// record the outcome, and reload the registry if any route was disabled.
// Per-service errors are logged and skipped so one bad upstream cannot
// starve the loop.
func (cs *CheckScheduler) RunChecks(ctx context.Context) {
	due, err := cs.repo.ServicesDueForCheck(ctx, time.Now())
	if err != nil {
		cs.logger.Error("failed to query services due for check",
			logger.Error(err))
		return
	}
	if len(due) == 0 {
		cs.logger.Debug("no services due for check")
		return
	}

	routesChanged := false
	for _, svc := range due {
		changed, err := cs.checkService(ctx, svc)
		if err != nil {
			cs.logger.Error("service check failed, skipping",
				logger.String("service", svc.Name),
				logger.Error(err))
			continue
		}
		if changed {
			routesChanged = true
		}
	}

	if routesChanged {
		cs.logger.Info("service routing changed during checks, reloading registry")
		if err := cs.registry.Reload(ctx, cs.repo); err != nil {
			cs.logger.Error("failed to reload route registry after checks",
				logger.Error(err))
		}
	}
}

// checkService snapshots one service and classifies the result. Returns
// whether the service's routing state changed.
func (cs *CheckScheduler) checkService(ctx context.Context, svc *domain.Service) (bool, error) {
	cs.logger.Info("checking service",
		logger.String("service", svc.Name),
		logger.String("upstream", svc.UpstreamURL))

	result, err := cs.snapshotter.Snapshot(ctx, svc.UpstreamURL)
	if err != nil {
		// All-or-nothing: no row, no disable.
		return false, err
	}

	last, err := cs.repo.LatestApprovedSnapshot(ctx, svc.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No approved baseline to compare against; treat as drift so a
		// human has to approve before traffic flows.
		cs.logger.Warn("no approved snapshot, disabling pending review",
			logger.String("service", svc.Name))
		if _, err := cs.repo.RecordDrift(ctx, svc.ID, result.Payload, result.Hash); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if last.Hash == result.Hash {
		cs.logger.Info("service surface unchanged",
			logger.String("service", svc.Name),
			logger.String("hash", result.Hash))
		_, err := cs.repo.InsertSnapshot(ctx, svc.ID, result.Payload, result.Hash, domain.StatusSystemApproved)
		return false, err
	}

	cs.logger.Warn("service surface drifted, disabling pending review",
		logger.String("service", svc.Name),
		logger.String("approved_hash", last.Hash),
		logger.String("new_hash", result.Hash))
	if _, err := cs.repo.RecordDrift(ctx, svc.ID, result.Payload, result.Hash); err != nil {
		return false, err
	}
	return true, nil
}
