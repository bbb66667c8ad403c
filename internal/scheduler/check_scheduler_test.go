package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
	"github.com/mcp-guardian/guardian/internal/mcptest"
	"github.com/mcp-guardian/guardian/internal/registry"
	"github.com/mcp-guardian/guardian/internal/snapshot"
	"github.com/mcp-guardian/guardian/internal/store/sqlite"
)

type checkFixture struct {
	store     *sqlite.Store
	registry  *registry.Registry
	snapper   *snapshot.Snapshotter
	scheduler *CheckScheduler
}

func newCheckFixture(t *testing.T) *checkFixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "guardian.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := logger.NewNop()
	snapper := snapshot.New(mcpclient.New(5*time.Second, log), log)
	reg := registry.New(log)
	return &checkFixture{
		store:     store,
		registry:  reg,
		snapper:   snapper,
		scheduler: NewCheckScheduler(store, snapper, reg, log, time.Minute),
	}
}

// onboard stores the service with the upstream's current surface as the
// user-approved baseline, the way the admin create operation does.
func (f *checkFixture) onboard(t *testing.T, ctx context.Context, name, url string, freq int) *domain.Service {
	t.Helper()
	result, err := f.snapper.Snapshot(ctx, url)
	require.NoError(t, err)
	svc, _, err := f.store.CreateServiceWithSnapshot(ctx, name, url, true, freq,
		result.Payload, result.Hash, domain.StatusUserApproved)
	require.NoError(t, err)
	return svc
}

func TestCheckUnchangedSurfaceSystemApproves(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "echo"}}

	f := newCheckFixture(t)
	ctx := context.Background()
	svc := f.onboard(t, ctx, "svc1", upstream.URL(), 10)

	changed, err := f.scheduler.checkService(ctx, svc)
	require.NoError(t, err)
	assert.False(t, changed)

	latest, err := f.store.LatestSnapshot(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSystemApproved, latest.Status)

	baseline, err := f.store.LatestApprovedSnapshot(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.Hash, baseline.Hash, "hash unchanged")

	got, err := f.store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestCheckDriftDisablesAtomically(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "echo"}}

	f := newCheckFixture(t)
	ctx := context.Background()
	svc := f.onboard(t, ctx, "svc1", upstream.URL(), 10)

	upstream.SetTools([]map[string]any{{"name": "echo"}, {"name": "ping"}})

	changed, err := f.scheduler.checkService(ctx, svc)
	require.NoError(t, err)
	assert.True(t, changed)

	// Single read observes the unapproved row and the disabled flag together.
	got, err := f.store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	latest, err := f.store.LatestSnapshot(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnapproved, latest.Status)

	baseline, err := f.store.LatestApprovedSnapshot(ctx, svc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, latest.Hash, baseline.Hash)
}

func TestCheckSnapshotFailureWritesNothing(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "echo"}}

	f := newCheckFixture(t)
	ctx := context.Background()
	svc := f.onboard(t, ctx, "svc1", upstream.URL(), 10)

	upstream.FailInitialize = true

	_, err := f.scheduler.checkService(ctx, svc)
	require.Error(t, err)

	snaps, err := f.store.ListSnapshots(ctx, svc.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "failed snapshot must not add rows")

	got, err := f.store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.True(t, got.Enabled, "failed snapshot must not disable")
}

func TestRunChecksDisablesAndReloadsRegistry(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "echo"}}

	f := newCheckFixture(t)
	ctx := context.Background()

	// Never-checked service: due immediately, and with no approved
	// baseline the check disables it pending review.
	svc, err := f.store.CreateService(ctx, "svc1", upstream.URL(), true, 10)
	require.NoError(t, err)
	require.NoError(t, f.registry.Reload(ctx, f.store))

	f.scheduler.RunChecks(ctx)

	got, err := f.store.GetService(ctx, "svc1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	latest, err := f.store.LatestSnapshot(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnapproved, latest.Status)

	entry, ok := f.registry.Lookup("svc1")
	require.True(t, ok)
	assert.False(t, entry.Enabled, "registry reloaded after disable")
}

func TestRunChecksSkipsBadUpstreamAndContinues(t *testing.T) {
	good := mcptest.New()
	defer good.Close()
	good.Tools = []map[string]any{{"name": "echo"}}

	f := newCheckFixture(t)
	ctx := context.Background()

	// One dead upstream, one healthy never-checked service. The loop must
	// get past the dead one.
	_, err := f.store.CreateService(ctx, "aaa-dead", "http://127.0.0.1:1/mcp", true, 10)
	require.NoError(t, err)
	goodSvc, err := f.store.CreateService(ctx, "bbb-good", good.URL(), true, 10)
	require.NoError(t, err)

	f.scheduler.RunChecks(ctx)

	latest, err := f.store.LatestSnapshot(ctx, goodSvc.ID)
	require.NoError(t, err)
	assert.NotNil(t, latest, "healthy service was still checked")

	dead, err := f.store.GetService(ctx, "aaa-dead")
	require.NoError(t, err)
	assert.True(t, dead.Enabled, "failed snapshot never disables")
}

func TestRoutePollerStartLoadsRegistry(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()

	f := newCheckFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.store.CreateService(ctx, "svc1", upstream.URL(), true, 0)
	require.NoError(t, err)

	poller := NewRoutePoller(f.store, f.registry, logger.NewNop(), time.Minute)
	require.NoError(t, poller.Start(ctx))
	defer poller.Stop()

	entry, ok := f.registry.Lookup("svc1")
	require.True(t, ok, "initial reload happens synchronously in Start")
	assert.True(t, entry.Enabled)
}
