package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcp-guardian/guardian/internal/admin"
	"github.com/mcp-guardian/guardian/internal/config"
	"github.com/mcp-guardian/guardian/internal/httpserver"
	"github.com/mcp-guardian/guardian/internal/httpserver/deps"
	"github.com/mcp-guardian/guardian/internal/logger"
	"github.com/mcp-guardian/guardian/internal/mcpclient"
	"github.com/mcp-guardian/guardian/internal/registry"
	"github.com/mcp-guardian/guardian/internal/scheduler"
	"github.com/mcp-guardian/guardian/internal/snapshot"
	"github.com/mcp-guardian/guardian/internal/store/sqlite"
	"github.com/mcp-guardian/guardian/internal/version"
)

type App struct {
	cfg            *config.Config
	logger         logger.Logger
	server         *httpserver.Server
	store          *sqlite.Store
	registry       *registry.Registry
	adminService   *admin.Service
	routePoller    *scheduler.RoutePoller
	checkScheduler *scheduler.CheckScheduler
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	loggerClient.Infof("Opening database at %s", cfg.Database.URL)
	store, err := sqlite.Open(cfg.Database.URL, cfg.Polling.MinCheckFrequency)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	upstream := mcpclient.New(cfg.UpstreamCallTimeout, loggerClient)
	snapshotter := snapshot.New(upstream, loggerClient)
	reg := registry.New(loggerClient)
	adminService := admin.New(store, snapshotter, reg, loggerClient)

	if cfg.Admin.PasswordGenerated {
		// Logged exactly once; there is no other way to learn it.
		loggerClient.Warnf("No admin password configured; generated one for this run: %s", cfg.Admin.Password)
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(cfg.Admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}

	routePoller := scheduler.NewRoutePoller(store, reg, loggerClient, cfg.Polling.Interval())
	checkScheduler := scheduler.NewCheckScheduler(store, snapshotter, reg, loggerClient, cfg.Polling.Interval())

	d := deps.Deps{
		Logger:            loggerClient,
		StartTime:         time.Now(),
		Version:           version.Version,
		Commit:            version.Commit,
		BuildDate:         version.BuildDate,
		GoVersion:         version.GoVersion,
		Registry:          reg,
		Repo:              store,
		Admin:             adminService,
		Upstream:          upstream,
		BaseURL:           cfg.BaseURL,
		AdminPasswordHash: passwordHash,
		AdminDisabled:     cfg.Admin.DisableUI,
		AdminAllowedCIDRs: cfg.AdminAllowedCIDRs,
		TrustProxy:        cfg.AdminTrustProxy,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:            cfg,
		logger:         loggerClient,
		server:         server,
		store:          store,
		registry:       reg,
		adminService:   adminService,
		routePoller:    routePoller,
		checkScheduler: checkScheduler,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("Starting MCP Guardian %s on %s (commit=%s, built=%s, go=%s)",
		version.Version, a.cfg.ListenAddr(), version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed configured services before anything routes traffic.
	if len(a.cfg.Services) > 0 {
		a.logger.Info("seeding services from config",
			logger.Int("count", len(a.cfg.Services)))
		a.adminService.Seed(ctx, seedEntries(a.cfg.Services))
	}

	if err := a.routePoller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start route poller: %w", err)
	}
	a.logger.Info("route poller started",
		logger.Duration("interval", a.cfg.Polling.Interval()))

	if err := a.checkScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start check scheduler: %w", err)
	}
	a.logger.Info("check scheduler started",
		logger.Duration("interval", a.cfg.Polling.Interval()))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.routePoller.Stop()
	a.checkScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warnf("failed to close database: %v", err)
	}

	a.logger.Info("MCP Guardian stopped cleanly")
	return nil
}

func seedEntries(services []config.SeedService) []admin.SeedEntry {
	entries := make([]admin.SeedEntry, 0, len(services))
	for _, s := range services {
		entries = append(entries, admin.SeedEntry{
			Name:                  s.Name,
			UpstreamURL:           s.UpstreamURL,
			Enabled:               s.IsEnabled(),
			CheckFrequencyMinutes: s.CheckFrequencyMinutes,
		})
	}
	return entries
}
