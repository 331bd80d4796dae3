// Package sqlite provides a single-file sentinel store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS stro_snapshots (
  license_id          TEXT    NOT NULL,
  address             TEXT    NOT NULL,
  zip                 TEXT    NOT NULL,
  tier                INTEGER NOT NULL,
  local_contact_name  TEXT    NOT NULL DEFAULT '',
  local_contact_phone TEXT    NOT NULL DEFAULT '',
  host_contact_name   TEXT    NOT NULL DEFAULT '',
  expires_at          INTEGER,
  ingested_at         INTEGER NOT NULL,
  PRIMARY KEY (license_id, ingested_at)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_zip_ingested ON stro_snapshots(zip, ingested_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_expires ON stro_snapshots(expires_at);
CREATE TABLE IF NOT EXISTS docket_history (
  meeting_id   TEXT PRIMARY KEY,
  meeting_date INTEGER NOT NULL,
  link         TEXT    NOT NULL,
  alerted_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sentinel_runs (
  run_id                TEXT PRIMARY KEY,
  started_at            INTEGER NOT NULL,
  finished_at           INTEGER NOT NULL,
  alerts_count          INTEGER NOT NULL,
  integrity_risks_count INTEGER NOT NULL,
  expiring_count        INTEGER NOT NULL,
  tax_risks_count       INTEGER NOT NULL,
  distressed_count      INTEGER NOT NULL,
  new_entrants_count    INTEGER NOT NULL,
  total_targets         INTEGER NOT NULL,
  status                TEXT    NOT NULL CHECK (status IN ('completed','failed')),
  error                 TEXT
);
`

// Store implements sentinel.SnapshotStore, sentinel.DocketStore and
// sentinel.RunLogger. Timestamps are stored as unix milliseconds.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const snapshotColumns = `license_id, address, zip, tier, local_contact_name, local_contact_phone,
  host_contact_name, expires_at, ingested_at`

// OlderThan returns rows ingested strictly before cutoff for the given license ids.
func (s *Store) OlderThan(ctx context.Context, cutoff time.Time, licenseIDs []string) ([]sentinel.SnapshotRow, error) {
	if len(licenseIDs) == 0 {
		return nil, nil
	}
	args := []any{toMillis(cutoff)}
	for _, id := range licenseIDs {
		args = append(args, id)
	}
	query := `SELECT ` + snapshotColumns + ` FROM stro_snapshots
WHERE ingested_at < ? AND license_id IN (` + placeholders(len(licenseIDs)) + `)
ORDER BY ingested_at`
	return s.querySnapshots(ctx, "older than", query, args...)
}

// InWindow returns rows matching q in ingestion order.
func (s *Store) InWindow(ctx context.Context, q sentinel.WindowQuery) ([]sentinel.SnapshotRow, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + snapshotColumns + ` FROM stro_snapshots WHERE ingested_at >= ?`)
	args := []any{toMillis(q.Since)}
	if !q.Until.IsZero() {
		b.WriteString(` AND ingested_at < ?`)
		args = append(args, toMillis(q.Until))
	}
	if len(q.Zips) > 0 {
		b.WriteString(` AND zip IN (` + placeholders(len(q.Zips)) + `)`)
		for _, z := range q.Zips {
			args = append(args, z)
		}
	}
	b.WriteString(` ORDER BY ingested_at, rowid`)
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return s.querySnapshots(ctx, "in window", b.String(), args...)
}

// ExpiringBetween returns rows whose expiration falls in [from, to], soonest first.
func (s *Store) ExpiringBetween(ctx context.Context, from, to time.Time) ([]sentinel.SnapshotRow, error) {
	query := `SELECT ` + snapshotColumns + ` FROM stro_snapshots
WHERE expires_at IS NOT NULL AND expires_at BETWEEN ? AND ?
ORDER BY expires_at`
	return s.querySnapshots(ctx, "expiring between", query, toMillis(from), toMillis(to))
}

func (s *Store) querySnapshots(ctx context.Context, op, query string, args ...any) ([]sentinel.SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots %s: %w", op, err)
	}
	defer rows.Close()

	var out []sentinel.SnapshotRow
	for rows.Next() {
		var (
			r        sentinel.SnapshotRow
			expires  sql.NullInt64
			ingested int64
		)
		if err := rows.Scan(
			&r.LicenseID,
			&r.Address,
			&r.Zip,
			&r.Tier,
			&r.LocalContactName,
			&r.LocalContactPhone,
			&r.HostContactName,
			&expires,
			&ingested,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if expires.Valid {
			t := fromMillis(expires.Int64)
			r.ExpiresAt = &t
		}
		r.IngestedAt = fromMillis(ingested)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

// Append inserts rows in one transaction.
func (s *Store) Append(ctx context.Context, rows ...sentinel.SnapshotRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stro_snapshots(`+snapshotColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if r.LicenseID == "" {
			return fmt.Errorf("append snapshot: license id is required")
		}
		var expires sql.NullInt64
		if r.ExpiresAt != nil {
			expires = sql.NullInt64{Int64: toMillis(*r.ExpiresAt), Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			r.LicenseID,
			r.Address,
			r.Zip,
			r.Tier,
			r.LocalContactName,
			r.LocalContactPhone,
			r.HostContactName,
			expires,
			toMillis(r.IngestedAt),
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", r.LicenseID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// HasAlerted reports whether meetingID is already in the docket history.
func (s *Store) HasAlerted(ctx context.Context, meetingID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM docket_history WHERE meeting_id = ?)`, meetingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query docket history: %w", err)
	}
	return exists == 1, nil
}

// RecordAlert appends a docket row.
func (s *Store) RecordAlert(ctx context.Context, row sentinel.DocketRow) error {
	if row.MeetingID == "" {
		return fmt.Errorf("record alert: meeting id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO docket_history(meeting_id, meeting_date, link, alerted_at) VALUES(?,?,?,?)`,
		row.MeetingID, toMillis(row.MeetingDate), row.Link, toMillis(row.AlertedAt))
	if err != nil {
		return fmt.Errorf("insert docket row: %w", err)
	}
	return nil
}

// Log inserts the run log row. An empty Error is stored as NULL.
func (s *Store) Log(ctx context.Context, entry sentinel.RunLog) error {
	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sentinel_runs(
  run_id, started_at, finished_at, alerts_count, integrity_risks_count, expiring_count,
  tax_risks_count, distressed_count, new_entrants_count, total_targets, status, error
) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.RunID,
		toMillis(entry.StartedAt),
		toMillis(entry.FinishedAt),
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

// RunStatus returns the status and error recorded for runID.
func (s *Store) RunStatus(ctx context.Context, runID string) (sentinel.RunStatus, string, error) {
	var (
		status  string
		errText sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, error FROM sentinel_runs WHERE run_id = ?`, runID).
		Scan(&status, &errText)
	if err != nil {
		return "", "", fmt.Errorf("query run %s: %w", runID, err)
	}
	return sentinel.RunStatus(status), errText.String, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
