package sniper

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

var (
	colLicenseID  = []string{"license_id", "license_number", "license_no", "license", "str_license"}
	colLicAddress = []string{"address", "street_address", "property_address", "rental_address"}
	colZip        = []string{"zip", "zip_code", "zipcode", "postal_code"}
	colTier       = []string{"tier", "license_tier", "tier_level"}
	colLocalName  = []string{"local_contact_name", "local_contact", "contact_name"}
	colLocalPhone = []string{"local_contact_phone", "contact_phone", "local_phone"}
	colHostName   = []string{"host_contact_name", "host_name", "host"}
	colExpires    = []string{"expiration_date", "expires_at", "expiration", "expiry_date", "expires"}
)

// LicensesConfig configures the new-entrant sniper.
type LicensesConfig struct {
	URL      string
	Tiers    []int
	Zips     []string
	Location *time.Location
}

// Licenses diffs the STRO license feed against the snapshot log and returns
// licenses never seen before today.
type Licenses struct {
	cfg     LicensesConfig
	fetcher sentinel.PageFetcher
	store   sentinel.SnapshotStore
	clock   sentinel.Clock
	logger  *zap.Logger
}

// NewLicenses builds the license sniper.
func NewLicenses(
	cfg LicensesConfig,
	fetcher sentinel.PageFetcher,
	store sentinel.SnapshotStore,
	clock sentinel.Clock,
	logger *zap.Logger,
) *Licenses {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Licenses{cfg: cfg, fetcher: fetcher, store: store, clock: clock, logger: logger.Named(NameLicenses)}
}

// Name implements Source.
func (l *Licenses) Name() string { return NameLicenses }

// Fetch returns novel license leads. While the log holds nothing older than
// today the run only seeds the baseline and returns nothing.
func (l *Licenses) Fetch(ctx context.Context) ([]sentinel.Lead, error) {
	if l.cfg.URL == "" {
		return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchNotConfigured, sentinel.ErrNotConfigured)
	}
	resp, err := fetchOK(ctx, l.fetcher, NameLicenses, l.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	rows, err := l.parse(resp.Body, now)
	if err != nil {
		return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchParse, err)
	}

	today := StartOfDay(now, l.cfg.Location)
	history, err := l.store.InWindow(ctx, sentinel.WindowQuery{Until: today, Limit: 1})
	if err != nil {
		return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchStore, err)
	}
	seeding := len(history) == 0

	todays, err := l.store.InWindow(ctx, sentinel.WindowQuery{Since: today})
	if err != nil {
		return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchStore, err)
	}
	recorded := make(map[string]struct{}, len(todays))
	for _, r := range todays {
		recorded[r.LicenseID] = struct{}{}
	}

	known := make(map[string]struct{})
	if !seeding {
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.LicenseID)
		}
		older, err := l.store.OlderThan(ctx, today, ids)
		if err != nil {
			return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchStore, err)
		}
		for _, r := range older {
			known[r.LicenseID] = struct{}{}
		}
	}

	var (
		fresh []sentinel.SnapshotRow
		leads []sentinel.Lead
	)
	for _, r := range rows {
		if _, ok := recorded[r.LicenseID]; !ok {
			fresh = append(fresh, r)
		}
		if _, ok := known[r.LicenseID]; !ok && !seeding {
			leads = append(leads, r.Lead())
		}
	}
	if err := l.store.Append(ctx, fresh...); err != nil {
		return nil, sentinel.NewFetchError(NameLicenses, sentinel.FetchStore, err)
	}
	if seeding {
		l.logger.Info("seeded license baseline", zap.Int("rows", len(fresh)))
		return nil, nil
	}
	l.logger.Info("license diff complete",
		zap.Int("qualifying", len(rows)),
		zap.Int("appended", len(fresh)),
		zap.Int("new_entrants", len(leads)),
	)
	return leads, nil
}

// parse returns one qualifying row per license id, stamped with now.
func (l *Licenses) parse(body []byte, now time.Time) ([]sentinel.SnapshotRow, error) {
	tbl, err := parseTable(body)
	if err != nil {
		return nil, err
	}
	if !tbl.has(colLicenseID...) || !tbl.has(colZip...) || !tbl.has(colTier...) {
		return nil, errMissingColumns
	}
	seen := make(map[string]struct{})
	var out []sentinel.SnapshotRow
	for _, rec := range tbl.rows {
		id := sentinel.NormalizeID(tbl.get(rec, colLicenseID...))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		tier, ok := parseTier(tbl.get(rec, colTier...))
		if !ok || !slices.Contains(l.cfg.Tiers, tier) {
			continue
		}
		zip := normalizeZip(tbl.get(rec, colZip...))
		if !zipAllowed(l.cfg.Zips, zip) {
			continue
		}
		seen[id] = struct{}{}
		row := sentinel.SnapshotRow{
			LicenseID:         id,
			Address:           tbl.get(rec, colLicAddress...),
			Zip:               zip,
			Tier:              tier,
			LocalContactName:  tbl.get(rec, colLocalName...),
			LocalContactPhone: tbl.get(rec, colLocalPhone...),
			HostContactName:   tbl.get(rec, colHostName...),
			IngestedAt:        now,
		}
		if exp, ok := parseDate(tbl.get(rec, colExpires...), l.cfg.Location); ok {
			row.ExpiresAt = &exp
		}
		out = append(out, row)
	}
	return out, nil
}

// parseTier accepts "3", "Tier 3" and "TIER-3".
func parseTier(value string) (int, bool) {
	digits := strings.TrimFunc(value, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
