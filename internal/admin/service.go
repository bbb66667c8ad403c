// Package admin implements the operations behind the admin surface:
// onboarding, inspection, mutation and approval of registered services.
// Every mutation that affects routing reloads the route registry before
// returning, so admin effects are visible to the proxy immediately rather
// than on the next poller tick.
package admin

import (
	"context"
	"fmt"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/registry"
	"github.com/mcp-guardian/guardian/internal/snapshot"
)

// Service wires the repository, snapshotter and registry together.
type Service struct {
	repo        domain.Repository
	snapshotter *snapshot.Snapshotter
	registry    *registry.Registry
	logger      logger.Logger
}

func New(repo domain.Repository, snap *snapshot.Snapshotter, reg *registry.Registry, log logger.Logger) *Service {
	return &Service{repo: repo, snapshotter: snap, registry: reg, logger: log}
}

// ServiceDetail is a service plus its recent snapshot history, for the
// single-service inspection surface.
type ServiceDetail struct {
	Service         *domain.ServiceOverview `json:"service"`
	RecentSnapshots []*domain.Snapshot      `json:"recent_snapshots"`
}

// DiffResult compares the latest approved snapshot with the latest overall.
type DiffResult struct {
	ServiceName string            `json:"service_name"`
	Approved    *domain.Snapshot  `json:"approved_snapshot,omitempty"`
	Latest      *domain.Snapshot  `json:"latest_snapshot,omitempty"`
	Changes     []snapshot.Change `json:"changes,omitempty"`
}

// CreateService validates, snapshots the upstream, and onboards the
// service with its snapshot pre-approved by the creating admin. A failed
// snapshot aborts the whole operation: no rows are written.
func (s *Service) CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*domain.Service, *domain.Snapshot, error) {
	// Cheap validation first; the repository re-checks, but a bad name
	// should not cost an upstream round trip. Frequency bounds live with
	// the repository, which knows the configured floor.
	if err := domain.ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := domain.ValidateUpstreamURL(upstreamURL); err != nil {
		return nil, nil, err
	}

	result, err := s.snapshotter.Snapshot(ctx, upstreamURL)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot upstream: %w", err)
	}

	svc, snap, err := s.repo.CreateServiceWithSnapshot(ctx, name, upstreamURL, enabled,
		checkFrequencyMinutes, result.Payload, result.Hash, domain.StatusUserApproved)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("service created",
		logger.String("service", svc.Name),
		logger.String("hash", snap.Hash))

	if err := s.registry.Reload(ctx, s.repo); err != nil {
		s.logger.Error("failed to reload registry after create", logger.Error(err))
	}
	return svc, snap, nil
}

func (s *Service) ListServices(ctx context.Context) ([]*domain.ServiceOverview, error) {
	return s.repo.ListServices(ctx)
}

// GetService returns the service with its ten most recent snapshots.
func (s *Service) GetService(ctx context.Context, name string) (*ServiceDetail, error) {
	overview, err := s.findOverview(ctx, name)
	if err != nil {
		return nil, err
	}
	snaps, err := s.repo.ListSnapshots(ctx, overview.ID, 10)
	if err != nil {
		return nil, err
	}
	return &ServiceDetail{Service: overview, RecentSnapshots: snaps}, nil
}

// UpdateService applies the patch. A changed upstream URL first has to
// snapshot cleanly; the fresh snapshot lands unapproved and the service is
// disabled until a human approves the new surface.
func (s *Service) UpdateService(ctx context.Context, name string, patch domain.ServicePatch) (*domain.Service, error) {
	existing, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}

	urlChanged := patch.UpstreamURL != nil && *patch.UpstreamURL != existing.UpstreamURL

	var fresh *snapshot.Result
	if urlChanged {
		fresh, err = s.snapshotter.Snapshot(ctx, *patch.UpstreamURL)
		if err != nil {
			return nil, fmt.Errorf("snapshot updated upstream: %w", err)
		}
		disabled := false
		patch.Enabled = &disabled
	}

	svc, err := s.repo.UpdateService(ctx, name, patch)
	if err != nil {
		return nil, err
	}

	if urlChanged {
		if _, err := s.repo.InsertSnapshot(ctx, svc.ID, fresh.Payload, fresh.Hash, domain.StatusUnapproved); err != nil {
			return nil, err
		}
		s.logger.Info("upstream URL changed, service disabled pending approval",
			logger.String("service", name),
			logger.String("hash", fresh.Hash))
	}

	if err := s.registry.Reload(ctx, s.repo); err != nil {
		s.logger.Error("failed to reload registry after update", logger.Error(err))
	}
	return svc, nil
}

func (s *Service) DeleteService(ctx context.Context, name string) error {
	if err := s.repo.DeleteService(ctx, name); err != nil {
		return err
	}
	s.logger.Info("service deleted", logger.String("service", name))

	if err := s.registry.Reload(ctx, s.repo); err != nil {
		s.logger.Error("failed to reload registry after delete", logger.Error(err))
	}
	return nil
}

func (s *Service) ListSnapshots(ctx context.Context, name string, limit int) ([]*domain.Snapshot, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, svc.ID, limit)
}

func (s *Service) LatestSnapshot(ctx context.Context, name string) (*domain.Snapshot, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.repo.LatestSnapshot(ctx, svc.ID)
}

func (s *Service) GetSnapshot(ctx context.Context, name string, snapshotID int64) (*domain.Snapshot, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.repo.GetSnapshot(ctx, svc.ID, snapshotID)
}

// Diff produces the review diff between the latest approved snapshot and
// the latest snapshot overall. Identical rows mean an empty change list.
func (s *Service) Diff(ctx context.Context, name string) (*DiffResult, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}

	result := &DiffResult{ServiceName: name}

	latest, err := s.repo.LatestSnapshot(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	result.Latest = latest

	approved, err := s.repo.LatestApprovedSnapshot(ctx, svc.ID)
	if err != nil {
		// Unapproved-only history still has a reviewable latest snapshot.
		return result, nil
	}
	result.Approved = approved

	if approved.ID != latest.ID {
		changes, err := snapshot.Diff(approved.Payload, latest.Payload)
		if err != nil {
			return nil, err
		}
		result.Changes = changes
	}
	return result, nil
}

// ApproveLatest marks the latest snapshot user-approved and re-enables the
// service. Approving an already-approved snapshot succeeds untouched.
func (s *Service) ApproveLatest(ctx context.Context, name string) (*domain.Snapshot, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}

	snap, err := s.repo.ApproveLatest(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot approved, service re-enabled",
		logger.String("service", name),
		logger.String("hash", snap.Hash))

	if err := s.registry.Reload(ctx, s.repo); err != nil {
		s.logger.Error("failed to reload registry after approve", logger.Error(err))
	}
	return snap, nil
}

// ClientConfig renders the MCP client stanza pointing at the proxy path.
func (s *Service) ClientConfig(ctx context.Context, name, baseURL string) (map[string]any, error) {
	svc, err := s.repo.GetService(ctx, name)
	if err != nil {
		return nil, err
	}
	mcpURL := fmt.Sprintf("%s/%s/mcp", trimTrailingSlash(baseURL), svc.Name)
	return map[string]any{
		"service_name": svc.Name,
		"config": map[string]any{
			svc.Name: map[string]any{"url": mcpURL},
		},
	}, nil
}

func (s *Service) findOverview(ctx context.Context, name string) (*domain.ServiceOverview, error) {
	overviews, err := s.repo.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range overviews {
		if o.Name == name {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
