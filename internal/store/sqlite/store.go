// Package sqlite implements the durable repository over database/sql with
// the pure-Go sqlite driver. Admin mutations are serialized by sqlite's
// single-writer discipline; the drift-disable and approve-latest writes are
// single transactions so readers observe them atomically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcp-guardian/guardian/internal/domain"
)

// timeFormat is fixed-width UTC so stored timestamps sort lexicographically
// the same way they sort chronologically.
const timeFormat = "2006-01-02 15:04:05.000000000-07:00"

const schema = `
CREATE TABLE IF NOT EXISTS services (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	upstream_url TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	check_frequency_minutes INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id INTEGER NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	payload TEXT NOT NULL,
	hash TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_service_created ON snapshots(service_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_hash ON snapshots(hash);
`

// Store is the sqlite-backed repository.
type Store struct {
	db *sql.DB

	// MinCheckFrequency is the floor for non-zero per-service check
	// frequencies, in minutes.
	MinCheckFrequency int
}

// Open connects to the database named by url (a path or file: URL),
// applies the required pragmas and creates the schema.
func Open(url string, minCheckFrequency int) (*Store, error) {
	dsn := url
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection: sqlite has one writer anyway, and this keeps the
	// pragmas applied to every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if minCheckFrequency <= 0 {
		minCheckFrequency = 5
	}
	return &Store{db: db, MinCheckFrequency: minCheckFrequency}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*domain.Service, error) {
	if err := validateServiceInput(name, upstreamURL, checkFrequencyMinutes, s.MinCheckFrequency); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO services (name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, upstreamURL, enabled, checkFrequencyMinutes, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateName, name)
		}
		return nil, fmt.Errorf("insert service: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("service insert id: %w", err)
	}
	return &domain.Service{
		ID:                    id,
		Name:                  name,
		UpstreamURL:           upstreamURL,
		Enabled:               enabled,
		CheckFrequencyMinutes: checkFrequencyMinutes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// CreateServiceWithSnapshot inserts the service row and its initial
// snapshot in one transaction, keeping the "every onboarded service has a
// snapshot" invariant even across crashes.
func (s *Store) CreateServiceWithSnapshot(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int, payload, hash string, status domain.ApprovalStatus) (*domain.Service, *domain.Snapshot, error) {
	if err := validateServiceInput(name, upstreamURL, checkFrequencyMinutes, s.MinCheckFrequency); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO services (name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, upstreamURL, enabled, checkFrequencyMinutes, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrDuplicateName, name)
		}
		return nil, nil, fmt.Errorf("insert service: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("service insert id: %w", err)
	}

	snap, err := insertSnapshot(ctx, tx, id, payload, hash, status)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit create: %w", err)
	}

	svc := &domain.Service{
		ID:                    id,
		Name:                  name,
		UpstreamURL:           upstreamURL,
		Enabled:               enabled,
		CheckFrequencyMinutes: checkFrequencyMinutes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return svc, snap, nil
}

func (s *Store) GetService(ctx context.Context, name string) (*domain.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services WHERE name = ?`, name)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	return svc, err
}

func (s *Store) ListServices(ctx context.Context) ([]*domain.ServiceOverview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.upstream_url, s.enabled, s.check_frequency_minutes, s.created_at, s.updated_at,
			(SELECT sn.status FROM snapshots sn WHERE sn.service_id = s.id
				ORDER BY sn.created_at DESC, sn.id DESC LIMIT 1),
			(SELECT sn.created_at FROM snapshots sn WHERE sn.service_id = s.id
				ORDER BY sn.created_at DESC, sn.id DESC LIMIT 1),
			(SELECT sn.hash FROM snapshots sn WHERE sn.service_id = s.id
				AND sn.status IN ('user_approved', 'system_approved')
				ORDER BY sn.created_at DESC, sn.id DESC LIMIT 1)
		 FROM services s ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []*domain.ServiceOverview
	for rows.Next() {
		var (
			o             domain.ServiceOverview
			enabled       int
			createdAt     string
			updatedAt     string
			latestStatus  sql.NullString
			latestCreated sql.NullString
			approvedHash  sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.Name, &o.UpstreamURL, &enabled, &o.CheckFrequencyMinutes,
			&createdAt, &updatedAt, &latestStatus, &latestCreated, &approvedHash); err != nil {
			return nil, fmt.Errorf("scan service overview: %w", err)
		}
		o.Enabled = enabled != 0
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if latestStatus.Valid {
			status := domain.ApprovalStatus(latestStatus.String)
			o.LatestSnapshotStatus = &status
		}
		if latestCreated.Valid {
			t, err := parseTime(latestCreated.String)
			if err != nil {
				return nil, err
			}
			o.LatestSnapshotCreatedAt = &t
		}
		o.LatestApprovedHash = approvedHash.String
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *Store) UpdateService(ctx context.Context, name string, patch domain.ServicePatch) (*domain.Service, error) {
	if patch.UpstreamURL != nil {
		if err := domain.ValidateUpstreamURL(*patch.UpstreamURL); err != nil {
			return nil, err
		}
	}
	if patch.CheckFrequencyMinutes != nil {
		if err := domain.ValidateCheckFrequency(*patch.CheckFrequencyMinutes, s.MinCheckFrequency); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	svc, err := getServiceTx(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if patch.UpstreamURL != nil {
		svc.UpstreamURL = *patch.UpstreamURL
	}
	if patch.Enabled != nil {
		svc.Enabled = *patch.Enabled
	}
	if patch.CheckFrequencyMinutes != nil {
		svc.CheckFrequencyMinutes = *patch.CheckFrequencyMinutes
	}
	svc.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE services SET upstream_url = ?, enabled = ?, check_frequency_minutes = ?, updated_at = ?
		 WHERE id = ?`,
		svc.UpstreamURL, svc.Enabled, svc.CheckFrequencyMinutes, formatTime(svc.UpdatedAt), svc.ID); err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return svc, nil
}

func (s *Store) DeleteService(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	return nil
}

func (s *Store) UpsertServiceFromConfig(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*domain.Service, bool, error) {
	existing, err := s.GetService(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	svc, err := s.CreateService(ctx, name, upstreamURL, enabled, checkFrequencyMinutes)
	if err != nil {
		// Lost a race with a concurrent creator; the row exists now.
		if errors.Is(err, domain.ErrDuplicateName) {
			svc, err := s.GetService(ctx, name)
			return svc, false, err
		}
		return nil, false, err
	}
	return svc, true, nil
}

func (s *Store) InsertSnapshot(ctx context.Context, serviceID int64, payload, hash string, status domain.ApprovalStatus) (*domain.Snapshot, error) {
	return insertSnapshot(ctx, s.db, serviceID, payload, hash, status)
}

func (s *Store) LatestSnapshot(ctx context.Context, serviceID int64) (*domain.Snapshot, error) {
	return s.latestWhere(ctx, serviceID, "")
}

func (s *Store) LatestApprovedSnapshot(ctx context.Context, serviceID int64) (*domain.Snapshot, error) {
	return s.latestWhere(ctx, serviceID, ` AND status IN ('user_approved', 'system_approved')`)
}

func (s *Store) latestWhere(ctx context.Context, serviceID int64, cond string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, payload, hash, status, created_at FROM snapshots
		 WHERE service_id = ?`+cond+` ORDER BY created_at DESC, id DESC LIMIT 1`, serviceID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for service %d", domain.ErrNotFound, serviceID)
	}
	return snap, err
}

func (s *Store) GetSnapshot(ctx context.Context, serviceID, snapshotID int64) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, payload, hash, status, created_at FROM snapshots
		 WHERE id = ? AND service_id = ?`, snapshotID, serviceID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot %d", domain.ErrNotFound, snapshotID)
	}
	return snap, err
}

func (s *Store) ListSnapshots(ctx context.Context, serviceID int64, limit int) ([]*domain.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service_id, payload, hash, status, created_at FROM snapshots
		 WHERE service_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RecordDrift writes the unapproved snapshot and disables the service in
// one transaction: a concurrent reader sees both effects or neither.
func (s *Store) RecordDrift(ctx context.Context, serviceID int64, payload, hash string) (*domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drift record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap, err := insertSnapshot(ctx, tx, serviceID, payload, hash, domain.StatusUnapproved)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE services SET enabled = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), serviceID); err != nil {
		return nil, fmt.Errorf("disable service: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drift record: %w", err)
	}
	return snap, nil
}

// ApproveLatest flips the latest snapshot to user_approved if it is not
// already approved, and re-enables the service. Approving an approved
// latest snapshot leaves the snapshot rows untouched; the service row is
// written only if the service was disabled.
func (s *Store) ApproveLatest(ctx context.Context, serviceID int64) (*domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, service_id, payload, hash, status, created_at FROM snapshots
		 WHERE service_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, serviceID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no snapshot for service %d", domain.ErrNotFound, serviceID)
	}
	if err != nil {
		return nil, err
	}

	touched := false
	if !snap.Status.Approved() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET status = ? WHERE id = ?`,
			domain.StatusUserApproved, snap.ID); err != nil {
			return nil, fmt.Errorf("approve snapshot: %w", err)
		}
		snap.Status = domain.StatusUserApproved
		touched = true
	}

	var enabled int
	if err := tx.QueryRowContext(ctx,
		`SELECT enabled FROM services WHERE id = ?`, serviceID).Scan(&enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: service %d", domain.ErrNotFound, serviceID)
		}
		return nil, fmt.Errorf("read service: %w", err)
	}
	if enabled == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE services SET enabled = 1, updated_at = ? WHERE id = ?`,
			formatTime(time.Now().UTC()), serviceID); err != nil {
			return nil, fmt.Errorf("enable service: %w", err)
		}
		touched = true
	}

	if !touched {
		return snap, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve: %w", err)
	}
	return snap, nil
}

// ServicesDueForCheck returns enabled services with periodic checks whose
// last snapshot is older than their check frequency, or which have none.
func (s *Store) ServicesDueForCheck(ctx context.Context, now time.Time) ([]*domain.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.upstream_url, s.enabled, s.check_frequency_minutes, s.created_at, s.updated_at,
			(SELECT sn.created_at FROM snapshots sn WHERE sn.service_id = s.id
				ORDER BY sn.created_at DESC, sn.id DESC LIMIT 1)
		 FROM services s
		 WHERE s.enabled = 1 AND s.check_frequency_minutes > 0
		 ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("services due for check: %w", err)
	}
	defer rows.Close()

	var due []*domain.Service
	for rows.Next() {
		var (
			svc       domain.Service
			enabled   int
			createdAt string
			updatedAt string
			lastCheck sql.NullString
		)
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.UpstreamURL, &enabled,
			&svc.CheckFrequencyMinutes, &createdAt, &updatedAt, &lastCheck); err != nil {
			return nil, fmt.Errorf("scan due service: %w", err)
		}
		svc.Enabled = enabled != 0
		if svc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if svc.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}

		if lastCheck.Valid {
			last, err := parseTime(lastCheck.String)
			if err != nil {
				return nil, err
			}
			interval := time.Duration(svc.CheckFrequencyMinutes) * time.Minute
			if now.Sub(last) < interval {
				continue
			}
		}
		dueSvc := svc
		due = append(due, &dueSvc)
	}
	return due, rows.Err()
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*domain.Service, error) {
	var (
		svc       domain.Service
		enabled   int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&svc.ID, &svc.Name, &svc.UpstreamURL, &enabled,
		&svc.CheckFrequencyMinutes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	svc.Enabled = enabled != 0
	if svc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if svc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		snap      domain.Snapshot
		status    string
		createdAt string
	)
	err := row.Scan(&snap.ID, &snap.ServiceID, &snap.Payload, &snap.Hash, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	snap.Status = domain.ApprovalStatus(status)
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSnapshot(ctx context.Context, db execer, serviceID int64, payload, hash string, status domain.ApprovalStatus) (*domain.Snapshot, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO snapshots (service_id, payload, hash, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		serviceID, payload, hash, string(status), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("snapshot insert id: %w", err)
	}
	return &domain.Snapshot{
		ID:        id,
		ServiceID: serviceID,
		Payload:   payload,
		Hash:      hash,
		Status:    status,
		CreatedAt: now,
	}, nil
}

func getServiceTx(ctx context.Context, tx *sql.Tx, name string) (*domain.Service, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services WHERE name = ?`, name)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	return svc, err
}

func validateServiceInput(name, upstreamURL string, freq, minFreq int) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	if err := domain.ValidateUpstreamURL(upstreamURL); err != nil {
		return err
	}
	return domain.ValidateCheckFrequency(freq, minFreq)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
