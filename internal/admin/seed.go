package admin

import (
	"context"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
)

// SeedEntry is one pre-configured service from the config file.
type SeedEntry struct {
	Name                  string
	UpstreamURL           string
	Enabled               bool
	CheckFrequencyMinutes int
}

// Seed upserts the configured services at startup. Existing names are left
// untouched, so re-running with the same config changes nothing. A freshly
// created entry gets a best-effort initial snapshot, approved on the
// operator's authority; an unreachable upstream does not block boot, the
// service simply starts without a baseline and stays subject to review on
// its first check.
func (s *Service) Seed(ctx context.Context, entries []SeedEntry) {
	for _, e := range entries {
		svc, created, err := s.repo.UpsertServiceFromConfig(ctx, e.Name, e.UpstreamURL, e.Enabled, e.CheckFrequencyMinutes)
		if err != nil {
			s.logger.Error("failed to seed service",
				logger.String("service", e.Name),
				logger.Error(err))
			continue
		}
		if !created {
			s.logger.Debug("seed service already exists, leaving as is",
				logger.String("service", e.Name))
			continue
		}

		s.logger.Info("seeded service from config",
			logger.String("service", svc.Name),
			logger.String("upstream", svc.UpstreamURL))

		result, err := s.snapshotter.Snapshot(ctx, svc.UpstreamURL)
		if err != nil {
			s.logger.Warn("initial snapshot of seeded service failed, continuing without baseline",
				logger.String("service", svc.Name),
				logger.Error(err))
			continue
		}
		if _, err := s.repo.InsertSnapshot(ctx, svc.ID, result.Payload, result.Hash, domain.StatusUserApproved); err != nil {
			s.logger.Error("failed to store initial snapshot for seeded service",
				logger.String("service", svc.Name),
				logger.Error(err))
		}
	}

	if err := s.registry.Reload(ctx, s.repo); err != nil {
		s.logger.Error("failed to reload registry after seeding", logger.Error(err))
	}
}
