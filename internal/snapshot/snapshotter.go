// Package snapshot captures an upstream MCP server's capability surface as
// a normalized payload plus its canonical fingerprint, and diffs payloads
// for the admin review surface.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/mcp-guardian/guardian/internal/canonical"
	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
)

// volatileServerInfoFields fluctuate without semantic change and are
// stripped before hashing. Extending this set changes hashes across
// releases, so additions belong in the payload format history.
var volatileServerInfoFields = []string{"build", "buildTime", "uptime", "instructions"}

// Result is one completed snapshot: the normalized payload exactly as
// hashed (stored verbatim so diffs stay reproducible) and its fingerprint.
type Result struct {
	Payload string
	Hash    string
}

// Snapshotter drives the MCP lifecycle and listing calls against an
// upstream and reduces the answers to a Result. All-or-nothing: any failed
// call aborts the attempt and nothing is persisted.
type Snapshotter struct {
	client *mcpclient.Client
	logger logger.Logger
}

func New(client *mcpclient.Client, log logger.Logger) *Snapshotter {
	return &Snapshotter{client: client, logger: log}
}

// Snapshot initializes the upstream, exhausts the four listing methods, and
// assembles the normalized payload.
func (s *Snapshotter) Snapshot(ctx context.Context, upstreamURL string) (*Result, error) {
	init, err := s.client.Initialize(ctx, upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", upstreamURL, err)
	}

	tools, err := s.listSorted(ctx, upstreamURL, "tools/list", "name")
	if err != nil {
		return nil, err
	}
	resources, err := s.listSorted(ctx, upstreamURL, "resources/list", "uri")
	if err != nil {
		return nil, err
	}
	templates, err := s.listSorted(ctx, upstreamURL, "resources/templates/list", "uriTemplate")
	if err != nil {
		return nil, err
	}
	prompts, err := s.listSorted(ctx, upstreamURL, "prompts/list", "name")
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"protocolVersion":    init.ProtocolVersion,
		"capabilities":       emptyIfNil(init.Capabilities),
		"serverInfo":         stripVolatile(init.ServerInfo),
		"tools":              tools,
		"resources":          resources,
		"resource_templates": templates,
		"prompts":            prompts,
	}

	bytes, err := canonical.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot of %s: %w", upstreamURL, err)
	}
	hash := canonical.Sum(bytes)

	s.logger.Info("snapshot complete",
		logger.String("upstream", upstreamURL),
		logger.String("hash", hash),
		logger.Int("tools", len(tools)),
		logger.Int("resources", len(resources)),
		logger.Int("prompts", len(prompts)))

	return &Result{Payload: string(bytes), Hash: hash}, nil
}

func (s *Snapshotter) listSorted(ctx context.Context, url, method, sortKey string) ([]any, error) {
	items, err := s.client.List(ctx, url, method)
	if err != nil {
		return nil, fmt.Errorf("%s against %s: %w", method, url, err)
	}
	sorted, err := sortByKey(items, sortKey)
	if err != nil {
		return nil, fmt.Errorf("%s against %s: %w", method, url, err)
	}
	return sorted, nil
}

// sortByKey orders items ascending by the given string member. Two items
// sharing a sort key leave no stable ordering, so the upstream is treated
// as malformed.
func sortByKey(items []map[string]any, key string) ([]any, error) {
	keyOf := func(m map[string]any) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}

	sorted := make([]map[string]any, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return keyOf(sorted[i]) < keyOf(sorted[j])
	})

	for i := 1; i < len(sorted); i++ {
		if keyOf(sorted[i-1]) == keyOf(sorted[i]) {
			return nil, fmt.Errorf("%w: duplicate %s %q",
				domain.ErrSnapshotAmbiguous, key, keyOf(sorted[i]))
		}
	}

	out := make([]any, len(sorted))
	for i, m := range sorted {
		out[i] = m
	}
	return out, nil
}

func stripVolatile(serverInfo map[string]any) map[string]any {
	out := make(map[string]any, len(serverInfo))
	for k, v := range serverInfo {
		out[k] = v
	}
	for _, f := range volatileServerInfoFields {
		delete(out, f)
	}
	return out
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
