package sniper

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// RenewalConfig configures the expiring-license sniper.
type RenewalConfig struct {
	Zips   []string
	Window time.Duration
}

// Renewal lists known licenses that expire inside the renewal window.
type Renewal struct {
	cfg   RenewalConfig
	store sentinel.SnapshotStore
	clock sentinel.Clock
}

// NewRenewal builds the renewal sniper.
func NewRenewal(cfg RenewalConfig, store sentinel.SnapshotStore, clock sentinel.Clock) *Renewal {
	return &Renewal{cfg: cfg, store: store, clock: clock}
}

// Name implements Source.
func (r *Renewal) Name() string { return NameRenewal }

// Fetch returns one entry per license, from its most recent snapshot, soonest expiry first.
// A license whose latest snapshot expires outside the window has been renewed and is skipped.
func (r *Renewal) Fetch(ctx context.Context) ([]sentinel.ExpiringLicense, error) {
	now := r.clock.Now()
	until := now.Add(r.cfg.Window)
	rows, err := r.store.ExpiringBetween(ctx, now, until)
	if err != nil {
		return nil, sentinel.NewFetchError(NameRenewal, sentinel.FetchStore, err)
	}

	var ids []string
	candidates := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.ExpiresAt == nil || !zipAllowed(r.cfg.Zips, row.Zip) {
			continue
		}
		if _, ok := candidates[row.LicenseID]; !ok {
			candidates[row.LicenseID] = struct{}{}
			ids = append(ids, row.LicenseID)
		}
	}
	if len(ids) == 0 {
		return []sentinel.ExpiringLicense{}, nil
	}

	// Rows written earlier in this run carry a timestamp at or just before now.
	history, err := r.store.OlderThan(ctx, now.Add(time.Second), ids)
	if err != nil {
		return nil, sentinel.NewFetchError(NameRenewal, sentinel.FetchStore, err)
	}
	latest := make(map[string]sentinel.SnapshotRow, len(ids))
	for _, row := range history {
		if prev, ok := latest[row.LicenseID]; ok && !row.IngestedAt.After(prev.IngestedAt) {
			continue
		}
		latest[row.LicenseID] = row
	}
	for id, row := range latest {
		if row.ExpiresAt == nil || row.ExpiresAt.Before(now) || row.ExpiresAt.After(until) || !zipAllowed(r.cfg.Zips, row.Zip) {
			delete(latest, id)
		}
	}

	out := make([]sentinel.ExpiringLicense, 0, len(latest))
	for _, row := range latest {
		out = append(out, sentinel.ExpiringLicense{
			LicenseID:         row.LicenseID,
			Address:           row.Address,
			Zip:               row.Zip,
			Tier:              row.Tier,
			ExpiresAt:         *row.ExpiresAt,
			LocalContactName:  row.LocalContactName,
			LocalContactPhone: row.LocalContactPhone,
			HostContactName:   row.HostContactName,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].LicenseID < out[j].LicenseID
	})
	return out, nil
}
