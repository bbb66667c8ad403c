package deps

import (
	"time"

	"github.com/mcp-guardian/guardian/internal/admin"
	"github.com/mcp-guardian/guardian/internal/domain"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
	"github.com/mcp-guardian/guardian/internal/registry"
)

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string

	Registry *registry.Registry // in-memory route table, consulted once per proxy request
	Repo     domain.Repository  // durable store, used by readiness checks
	Admin    *admin.Service     // admin operations
	Upstream *mcpclient.Client  // raw forwarding client for the proxy engine

	BaseURL string // external base URL for generated client configs

	AdminPasswordHash []byte   // bcrypt hash of the admin password
	AdminDisabled     bool     // true => the admin router refuses service
	AdminAllowedCIDRs []string // optional CIDR allow-list for the admin API
	TrustProxy        bool     // resolve client IPs from proxy headers
}
