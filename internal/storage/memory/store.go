// Package memory provides in-memory implementations of the sentinel stores
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

type snapshotKey struct {
	licenseID  string
	ingestedAt int64
}

// Store implements sentinel.SnapshotStore, sentinel.DocketStore and
// sentinel.RunLogger. Rows are only ever appended.
type Store struct {
	mu        sync.RWMutex
	snapshots []sentinel.SnapshotRow
	keys      map[snapshotKey]struct{}
	dockets   map[string]sentinel.DocketRow
	runs      []sentinel.RunLog
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		keys:    make(map[snapshotKey]struct{}),
		dockets: make(map[string]sentinel.DocketRow),
	}
}

// OlderThan returns rows ingested strictly before cutoff for the given license ids.
func (s *Store) OlderThan(_ context.Context, cutoff time.Time, licenseIDs []string) ([]sentinel.SnapshotRow, error) {
	if len(licenseIDs) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(licenseIDs))
	for _, id := range licenseIDs {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sentinel.SnapshotRow
	for _, row := range s.snapshots {
		if _, ok := want[row.LicenseID]; !ok {
			continue
		}
		if row.IngestedAt.Before(cutoff) {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

// InWindow returns rows matching q in ingestion order.
func (s *Store) InWindow(_ context.Context, q sentinel.WindowQuery) ([]sentinel.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sentinel.SnapshotRow
	for _, row := range s.snapshots {
		if row.IngestedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !row.IngestedAt.Before(q.Until) {
			continue
		}
		if len(q.Zips) > 0 && !slices.Contains(q.Zips, row.Zip) {
			continue
		}
		out = append(out, copyRow(row))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// ExpiringBetween returns rows whose expiration falls in [from, to], soonest first.
func (s *Store) ExpiringBetween(_ context.Context, from, to time.Time) ([]sentinel.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sentinel.SnapshotRow
	for _, row := range s.snapshots {
		if row.ExpiresAt == nil || row.ExpiresAt.Before(from) || row.ExpiresAt.After(to) {
			continue
		}
		out = append(out, copyRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	return out, nil
}

// Append inserts rows. The batch is rejected as a whole if any
// (license id, ingested at) pair already exists.
func (s *Store) Append(_ context.Context, rows ...sentinel.SnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(map[snapshotKey]struct{}, len(rows))
	for _, row := range rows {
		if row.LicenseID == "" {
			return fmt.Errorf("append snapshot: license id is required")
		}
		key := snapshotKey{licenseID: row.LicenseID, ingestedAt: row.IngestedAt.UnixNano()}
		if _, dup := s.keys[key]; dup {
			return fmt.Errorf("append snapshot: duplicate row for %s at %s", row.LicenseID, row.IngestedAt)
		}
		if _, dup := batch[key]; dup {
			return fmt.Errorf("append snapshot: duplicate row for %s in batch", row.LicenseID)
		}
		batch[key] = struct{}{}
	}
	for _, row := range rows {
		s.snapshots = append(s.snapshots, copyRow(row))
	}
	for key := range batch {
		s.keys[key] = struct{}{}
	}
	return nil
}

// HasAlerted reports whether meetingID is already in the docket history.
func (s *Store) HasAlerted(_ context.Context, meetingID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dockets[meetingID]
	return ok, nil
}

// RecordAlert appends a docket row. Recording the same meeting twice is an error.
func (s *Store) RecordAlert(_ context.Context, row sentinel.DocketRow) error {
	if row.MeetingID == "" {
		return fmt.Errorf("record alert: meeting id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dockets[row.MeetingID]; ok {
		return fmt.Errorf("record alert: meeting %s already recorded", row.MeetingID)
	}
	s.dockets[row.MeetingID] = row
	return nil
}

// Log appends a run log entry.
func (s *Store) Log(_ context.Context, entry sentinel.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, entry)
	return nil
}

// Runs returns a copy of every logged run.
func (s *Store) Runs() []sentinel.RunLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sentinel.RunLog(nil), s.runs...)
}

// Snapshots returns a copy of every stored snapshot row.
func (s *Store) Snapshots() []sentinel.SnapshotRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sentinel.SnapshotRow, 0, len(s.snapshots))
	for _, row := range s.snapshots {
		out = append(out, copyRow(row))
	}
	return out
}

func copyRow(row sentinel.SnapshotRow) sentinel.SnapshotRow {
	if row.ExpiresAt != nil {
		exp := *row.ExpiresAt
		row.ExpiresAt = &exp
	}
	return row
}
