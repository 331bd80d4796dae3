// Package postgres provides Postgres-backed sentinel stores.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	snapshotCols = 9
	// appendBatchRows keeps one INSERT under Postgres' 65535 bind parameter limit.
	appendBatchRows = 1000
)

// Tables names the three append-only tables.
type Tables struct {
	Snapshots string
	Dockets   string
	Runs      string
}

func (t Tables) withDefaults() Tables {
	if t.Snapshots == "" {
		t.Snapshots = "stro_snapshots"
	}
	if t.Dockets == "" {
		t.Dockets = "docket_history"
	}
	if t.Runs == "" {
		t.Runs = "sentinel_runs"
	}
	return t
}

func (t Tables) validate() error {
	for _, name := range []string{t.Snapshots, t.Dockets, t.Runs} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements sentinel.SnapshotStore, sentinel.DocketStore and
// sentinel.RunLogger on Postgres. It only ever inserts.
type Store struct {
	pool      pool
	tables    Tables
	batchRows int
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	tables := cfg.Tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, tables: tables, batchRows: appendBatchRows}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, tables Tables) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Store{pool: p, tables: tables, batchRows: appendBatchRows}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema(s.tables) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func schema(t Tables) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	license_id          TEXT        NOT NULL,
	address             TEXT        NOT NULL,
	zip                 TEXT        NOT NULL,
	tier                INTEGER     NOT NULL,
	local_contact_name  TEXT        NOT NULL DEFAULT '',
	local_contact_phone TEXT        NOT NULL DEFAULT '',
	host_contact_name   TEXT        NOT NULL DEFAULT '',
	expires_at          TIMESTAMPTZ,
	ingested_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (license_id, ingested_at)
)`, t.Snapshots),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_zip_ingested_idx ON %s (zip, ingested_at)`, t.Snapshots, t.Snapshots),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)`, t.Snapshots, t.Snapshots),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	meeting_id   TEXT PRIMARY KEY,
	meeting_date TIMESTAMPTZ NOT NULL,
	link         TEXT        NOT NULL,
	alerted_at   TIMESTAMPTZ NOT NULL
)`, t.Dockets),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id                TEXT PRIMARY KEY,
	started_at            TIMESTAMPTZ NOT NULL,
	finished_at           TIMESTAMPTZ NOT NULL,
	alerts_count          INTEGER     NOT NULL,
	integrity_risks_count INTEGER     NOT NULL,
	expiring_count        INTEGER     NOT NULL,
	tax_risks_count       INTEGER     NOT NULL,
	distressed_count      INTEGER     NOT NULL,
	new_entrants_count    INTEGER     NOT NULL,
	total_targets         INTEGER     NOT NULL,
	status                TEXT        NOT NULL,
	error                 TEXT
)`, t.Runs),
	}
}

const snapshotColumns = `license_id, address, zip, tier, local_contact_name, local_contact_phone,
	host_contact_name, expires_at, ingested_at`

// OlderThan returns rows ingested strictly before cutoff for the given license ids.
func (s *Store) OlderThan(ctx context.Context, cutoff time.Time, licenseIDs []string) ([]sentinel.SnapshotRow, error) {
	if len(licenseIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ingested_at < $1 AND license_id = ANY($2)
ORDER BY ingested_at`, snapshotColumns, s.tables.Snapshots)
	return s.querySnapshots(ctx, "older than", query, cutoff, licenseIDs)
}

// InWindow returns rows matching q in ingestion order.
func (s *Store) InWindow(ctx context.Context, q sentinel.WindowQuery) ([]sentinel.SnapshotRow, error) {
	var (
		until *time.Time
		zips  []string
		limit *int64
	)
	if !q.Until.IsZero() {
		u := q.Until
		until = &u
	}
	if len(q.Zips) > 0 {
		zips = q.Zips
	}
	if q.Limit > 0 {
		l := int64(q.Limit)
		limit = &l
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ingested_at >= $1
  AND ($2::timestamptz IS NULL OR ingested_at < $2)
  AND ($3::text[] IS NULL OR zip = ANY($3))
ORDER BY ingested_at
LIMIT $4`, snapshotColumns, s.tables.Snapshots)
	return s.querySnapshots(ctx, "in window", query, q.Since, until, zips, limit)
}

// ExpiringBetween returns rows whose expiration falls in [from, to], soonest first.
func (s *Store) ExpiringBetween(ctx context.Context, from, to time.Time) ([]sentinel.SnapshotRow, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE expires_at IS NOT NULL AND expires_at BETWEEN $1 AND $2
ORDER BY expires_at`, snapshotColumns, s.tables.Snapshots)
	return s.querySnapshots(ctx, "expiring between", query, from, to)
}

func (s *Store) querySnapshots(ctx context.Context, op, query string, args ...any) ([]sentinel.SnapshotRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots %s: %w", op, err)
	}
	defer rows.Close()

	var out []sentinel.SnapshotRow
	for rows.Next() {
		var r sentinel.SnapshotRow
		err := rows.Scan(
			&r.LicenseID,
			&r.Address,
			&r.Zip,
			&r.Tier,
			&r.LocalContactName,
			&r.LocalContactPhone,
			&r.HostContactName,
			&r.ExpiresAt,
			&r.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

// Append inserts rows in one transaction, batchRows per statement, so a
// full feed either lands whole or not at all.
func (s *Store) Append(ctx context.Context, rows ...sentinel.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if r.LicenseID == "" {
			return fmt.Errorf("append snapshot: license id is required")
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot append: %w", err)
	}
	size := s.batchRows
	if size <= 0 {
		size = appendBatchRows
	}
	for start := 0; start < len(rows); start += size {
		batch := rows[start:min(start+size, len(rows))]
		if err := s.insertSnapshots(ctx, tx, batch); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot append: %w", err)
	}
	return nil
}

func (s *Store) insertSnapshots(ctx context.Context, tx pgx.Tx, rows []sentinel.SnapshotRow) error {
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*snapshotCols)
	for i, r := range rows {
		ph := make([]string, snapshotCols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*snapshotCols+j+1)
		}
		values = append(values, "("+strings.Join(ph, ",")+")")
		args = append(args,
			r.LicenseID,
			r.Address,
			r.Zip,
			r.Tier,
			r.LocalContactName,
			r.LocalContactPhone,
			r.HostContactName,
			r.ExpiresAt,
			r.IngestedAt,
		)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.tables.Snapshots, snapshotColumns, strings.Join(values, ","))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshots: %w", err)
	}
	return nil
}

// HasAlerted reports whether meetingID is already in the docket history.
func (s *Store) HasAlerted(ctx context.Context, meetingID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE meeting_id = $1)`, s.tables.Dockets)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, meetingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query docket history: %w", err)
	}
	return exists, nil
}

// RecordAlert appends a docket row.
func (s *Store) RecordAlert(ctx context.Context, row sentinel.DocketRow) error {
	if row.MeetingID == "" {
		return fmt.Errorf("record alert: meeting id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (meeting_id, meeting_date, link, alerted_at)
VALUES ($1, $2, $3, $4)`, s.tables.Dockets)
	if _, err := s.pool.Exec(ctx, query, row.MeetingID, row.MeetingDate, row.Link, row.AlertedAt); err != nil {
		return fmt.Errorf("insert docket row: %w", err)
	}
	return nil
}

// Log inserts the run log row. An empty Error is stored as NULL.
func (s *Store) Log(ctx context.Context, entry sentinel.RunLog) error {
	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	started_at,
	finished_at,
	alerts_count,
	integrity_risks_count,
	expiring_count,
	tax_risks_count,
	distressed_count,
	new_entrants_count,
	total_targets,
	status,
	error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.tables.Runs)
	_, err := s.pool.Exec(ctx, query,
		entry.RunID,
		entry.StartedAt,
		entry.FinishedAt,
		entry.AlertsCount,
		entry.IntegrityRisksCount,
		entry.ExpiringCount,
		entry.TaxRisksCount,
		entry.DistressedCount,
		entry.NewEntrantsCount,
		entry.TotalTargets,
		string(entry.Status),
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}
