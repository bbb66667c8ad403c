package snapshot_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
	"github.com/mcp-guardian/guardian/internal/mcptest"
	"github.com/mcp-guardian/guardian/internal/snapshot"
)

func newSnapshotter() *snapshot.Snapshotter {
	return snapshot.New(mcpclient.New(5*time.Second, logger.NewNop()), logger.NewNop())
}

func TestSnapshotBasic(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{
		{"name": "echo", "inputSchema": map[string]any{"type": "object"}},
	}

	result, err := newSnapshotter().Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(result.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(result.Hash))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", payload["protocolVersion"])
	}
	tools, ok := payload["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v", payload["tools"])
	}
	for _, key := range []string{"capabilities", "serverInfo", "resources", "resource_templates", "prompts"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "b"}, {"name": "a"}}

	snap := newSnapshotter()
	first, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	second, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("hashes differ across identical snapshots: %s vs %s", first.Hash, second.Hash)
	}

	// Reversing the advertised order must not change the fingerprint.
	upstream.SetTools([]map[string]any{{"name": "a"}, {"name": "b"}})
	third, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if third.Hash != first.Hash {
		t.Errorf("hash changed with item order: %s vs %s", third.Hash, first.Hash)
	}
}

func TestSnapshotStripsVolatileServerInfo(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.ServerInfoExtra = map[string]any{
		"build":        "abc123",
		"buildTime":    "2024-01-01T00:00:00Z",
		"uptime":       12345,
		"instructions": "be nice",
		"vendor":       "acme",
	}

	result, err := newSnapshotter().Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		t.Fatalf("payload parse: %v", err)
	}
	serverInfo := payload["serverInfo"].(map[string]any)
	for _, volatile := range []string{"build", "buildTime", "uptime", "instructions"} {
		if _, ok := serverInfo[volatile]; ok {
			t.Errorf("volatile field %q survived stripping", volatile)
		}
	}
	if serverInfo["vendor"] != "acme" {
		t.Errorf("non-volatile unknown field dropped: %v", serverInfo)
	}
}

func TestSnapshotVolatileChurnKeepsHash(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.ServerInfoExtra = map[string]any{"uptime": 1}

	snap := newSnapshotter()
	first, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	upstream.ServerInfoExtra["uptime"] = 999999
	second, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("uptime churn changed the hash: %s vs %s", first.Hash, second.Hash)
	}
}

func TestSnapshotDetectsDrift(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "echo"}}

	snap := newSnapshotter()
	before, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	upstream.SetTools([]map[string]any{{"name": "echo"}, {"name": "ping"}})
	after, err := snap.Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if before.Hash == after.Hash {
		t.Error("added tool did not change the hash")
	}
}

func TestSnapshotAmbiguousOrdering(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.Tools = []map[string]any{{"name": "dup"}, {"name": "dup"}}

	_, err := newSnapshotter().Snapshot(context.Background(), upstream.URL())
	if !errors.Is(err, domain.ErrSnapshotAmbiguous) {
		t.Errorf("Snapshot() error = %v, want ErrSnapshotAmbiguous", err)
	}
}

func TestSnapshotFailsOnDeadUpstream(t *testing.T) {
	_, err := newSnapshotter().Snapshot(context.Background(), "http://127.0.0.1:1/mcp")
	if !errors.Is(err, mcpclient.ErrUpstreamUnreachable) {
		t.Errorf("Snapshot() error = %v, want ErrUpstreamUnreachable", err)
	}
}

func TestSnapshotExhaustsPagination(t *testing.T) {
	upstream := mcptest.New()
	defer upstream.Close()
	upstream.PageSize = 1
	upstream.Tools = []map[string]any{{"name": "a"}, {"name": "b"}, {"name": "c"}}

	result, err := newSnapshotter().Snapshot(context.Background(), upstream.URL())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		t.Fatalf("payload parse: %v", err)
	}
	if tools := payload["tools"].([]any); len(tools) != 3 {
		t.Errorf("tools = %d items, want 3", len(tools))
	}
}
