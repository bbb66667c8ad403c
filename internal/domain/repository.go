package domain

import (
	"context"
	"time"
)

// Repository is the contract over durable storage for services and
// snapshots. Implementations must serialize admin mutations and make the
// drift-disable write (new unapproved snapshot + enabled=false) atomic with
// respect to readers.
type Repository interface {
	CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*Service, error)

	// CreateServiceWithSnapshot onboards a service together with its
	// initial snapshot in one transaction.
	CreateServiceWithSnapshot(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int, payload, hash string, status ApprovalStatus) (*Service, *Snapshot, error)
	GetService(ctx context.Context, name string) (*Service, error)
	ListServices(ctx context.Context) ([]*ServiceOverview, error)
	UpdateService(ctx context.Context, name string, patch ServicePatch) (*Service, error)
	DeleteService(ctx context.Context, name string) error

	// UpsertServiceFromConfig creates the service if the name is free and
	// changes nothing otherwise. Used by the startup seeder.
	UpsertServiceFromConfig(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*Service, bool, error)

	InsertSnapshot(ctx context.Context, serviceID int64, payload, hash string, status ApprovalStatus) (*Snapshot, error)
	LatestSnapshot(ctx context.Context, serviceID int64) (*Snapshot, error)
	LatestApprovedSnapshot(ctx context.Context, serviceID int64) (*Snapshot, error)
	GetSnapshot(ctx context.Context, serviceID, snapshotID int64) (*Snapshot, error)
	ListSnapshots(ctx context.Context, serviceID int64, limit int) ([]*Snapshot, error)

	// RecordDrift inserts an unapproved snapshot and disables the service in
	// one transaction.
	RecordDrift(ctx context.Context, serviceID int64, payload, hash string) (*Snapshot, error)

	// ApproveLatest flips the latest snapshot to user_approved (no-op if it
	// already is approved) and re-enables the service, in one transaction.
	ApproveLatest(ctx context.Context, serviceID int64) (*Snapshot, error)

	ServicesDueForCheck(ctx context.Context, now time.Time) ([]*Service, error)

	Ping(ctx context.Context) error
}
