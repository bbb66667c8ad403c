package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/registry"
)

// fakeRepo serves canned overviews; only ListServices is exercised here.
type fakeRepo struct {
	domain.Repository
	services []*domain.ServiceOverview
	err      error
}

func (f *fakeRepo) ListServices(ctx context.Context) ([]*domain.ServiceOverview, error) {
	return f.services, f.err
}

func overview(name, url string, enabled bool) *domain.ServiceOverview {
	return &domain.ServiceOverview{
		Service: domain.Service{Name: name, UpstreamURL: url, Enabled: enabled},
	}
}

func TestLookupBeforeReload(t *testing.T) {
	reg := registry.New(logger.NewNop())
	if _, ok := reg.Lookup("anything"); ok {
		t.Error("Lookup() on empty registry returned an entry")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestReloadAndLookup(t *testing.T) {
	reg := registry.New(logger.NewNop())
	repo := &fakeRepo{services: []*domain.ServiceOverview{
		overview("svc1", "http://one.example/mcp", true),
		overview("svc2", "http://two.example/mcp", false),
	}}

	if err := reg.Reload(context.Background(), repo); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	entry, ok := reg.Lookup("svc1")
	if !ok || !entry.Enabled || entry.UpstreamURL != "http://one.example/mcp" {
		t.Errorf("Lookup(svc1) = %+v, %v", entry, ok)
	}

	entry, ok = reg.Lookup("svc2")
	if !ok {
		t.Fatal("Lookup(svc2) not registered")
	}
	if entry.Enabled {
		t.Error("svc2 should be disabled")
	}

	if _, ok := reg.Lookup("ghost"); ok {
		t.Error("Lookup(ghost) returned an entry")
	}
}

func TestReloadReplacesWholesale(t *testing.T) {
	reg := registry.New(logger.NewNop())
	repo := &fakeRepo{services: []*domain.ServiceOverview{
		overview("old", "http://old.example/mcp", true),
	}}
	if err := reg.Reload(context.Background(), repo); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	repo.services = []*domain.ServiceOverview{
		overview("new", "http://new.example/mcp", true),
	}
	if err := reg.Reload(context.Background(), repo); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if _, ok := reg.Lookup("old"); ok {
		t.Error("stale route survived reload")
	}
	if _, ok := reg.Lookup("new"); !ok {
		t.Error("fresh route missing after reload")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestReloadFailureKeepsOldTable(t *testing.T) {
	reg := registry.New(logger.NewNop())
	repo := &fakeRepo{services: []*domain.ServiceOverview{
		overview("svc1", "http://one.example/mcp", true),
	}}
	if err := reg.Reload(context.Background(), repo); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	repo.err = errors.New("store down")
	if err := reg.Reload(context.Background(), repo); err == nil {
		t.Fatal("Reload() with failing repo returned nil error")
	}

	if _, ok := reg.Lookup("svc1"); !ok {
		t.Error("failed reload wiped the previous table")
	}
}
