package sniper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

var (
	colCertificate  = []string{"certificate_number", "certificate_id", "certificate_no", "account_number", "tot_certificate"}
	colBusinessName = []string{"business_name", "dba_name", "dba", "name"}
	colTOTAddress   = []string{"address", "street_address", "business_address", "location_address"}
)

// TOTConfig configures the tax risk sniper.
type TOTConfig struct {
	URL    string
	Zips   []string
	Window time.Duration
}

// TOT flags transient occupancy tax certificates whose address has no recent STRO license.
type TOT struct {
	cfg     TOTConfig
	fetcher sentinel.PageFetcher
	store   sentinel.SnapshotStore
	clock   sentinel.Clock
	logger  *zap.Logger
}

// NewTOT builds the TOT sniper.
func NewTOT(
	cfg TOTConfig,
	fetcher sentinel.PageFetcher,
	store sentinel.SnapshotStore,
	clock sentinel.Clock,
	logger *zap.Logger,
) *TOT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TOT{cfg: cfg, fetcher: fetcher, store: store, clock: clock, logger: logger.Named(NameTOT)}
}

// Name implements Source.
func (t *TOT) Name() string { return NameTOT }

// Fetch returns tax risks. With no license history to compare against it returns nothing.
func (t *TOT) Fetch(ctx context.Context) ([]sentinel.TaxRisk, error) {
	if t.cfg.URL == "" {
		return nil, sentinel.NewFetchError(NameTOT, sentinel.FetchNotConfigured, sentinel.ErrNotConfigured)
	}
	known, err := t.store.InWindow(ctx, sentinel.WindowQuery{
		Zips:  t.cfg.Zips,
		Since: t.clock.Now().Add(-t.cfg.Window),
	})
	if err != nil {
		return nil, sentinel.NewFetchError(NameTOT, sentinel.FetchStore, err)
	}
	addrs := make(map[string]struct{}, len(known))
	for _, r := range known {
		if a := sentinel.NormalizeAddress(r.Address); a != "" {
			addrs[a] = struct{}{}
		}
	}
	if len(addrs) == 0 {
		t.logger.Info("no recent license history; skipping tax cross-reference")
		return nil, nil
	}

	resp, err := fetchOK(ctx, t.fetcher, NameTOT, t.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	tbl, err := parseTable(resp.Body)
	if err != nil {
		return nil, sentinel.NewFetchError(NameTOT, sentinel.FetchParse, err)
	}
	if !tbl.has(colTOTAddress...) {
		return nil, sentinel.NewFetchError(NameTOT, sentinel.FetchParse, errMissingColumns)
	}

	var risks []sentinel.TaxRisk
	for _, rec := range tbl.rows {
		address := tbl.get(rec, colTOTAddress...)
		norm := sentinel.NormalizeAddress(address)
		if norm == "" {
			continue
		}
		zip := normalizeZip(tbl.get(rec, colZip...))
		if !zipAllowed(t.cfg.Zips, zip) {
			continue
		}
		if _, ok := addrs[norm]; ok {
			continue
		}
		risks = append(risks, sentinel.TaxRisk{
			CertificateID: tbl.get(rec, colCertificate...),
			BusinessName:  tbl.get(rec, colBusinessName...),
			Address:       address,
			Zip:           zip,
			Reason:        sentinel.ReasonNoStroLicense,
		})
	}
	return risks, nil
}
