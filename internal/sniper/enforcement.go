package sniper

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

var (
	colAddress     = []string{"address", "street_address", "location", "property_address"}
	colCaseID      = []string{"case_id", "case_number", "case_no", "citation_number", "citation_id"}
	colDescription = []string{"description", "violation", "violation_description", "violation_desc", "case_type"}
	colDateOpened  = []string{"date_opened", "open_date", "opened", "issue_date", "date_issued"}
)

// EnforcementConfig configures the distressed-property sniper.
type EnforcementConfig struct {
	CodeEnforcementURL string
	ParkingURL         string
	Keywords           []string
}

// Enforcement reads the code enforcement and parking citation feeds and keeps
// cases whose description mentions a distress keyword.
type Enforcement struct {
	cfg     EnforcementConfig
	fetcher sentinel.PageFetcher
	logger  *zap.Logger
}

// NewEnforcement builds the enforcement sniper.
func NewEnforcement(cfg EnforcementConfig, fetcher sentinel.PageFetcher, logger *zap.Logger) *Enforcement {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcement{cfg: cfg, fetcher: fetcher, logger: logger.Named(NameEnforcement)}
}

// Name implements Source.
func (e *Enforcement) Name() string { return NameEnforcement }

// Fetch returns code enforcement leads followed by parking leads. A failing
// feed does not discard the other; an error is returned only when no
// configured feed could be read.
func (e *Enforcement) Fetch(ctx context.Context) ([]sentinel.Lead, error) {
	feeds := []struct {
		url      string
		leadType sentinel.LeadType
	}{
		{e.cfg.CodeEnforcementURL, sentinel.LeadCodeEnforcement},
		{e.cfg.ParkingURL, sentinel.LeadParking},
	}

	var (
		out        []sentinel.Lead
		errs       []error
		configured int
	)
	for _, feed := range feeds {
		if feed.url == "" {
			continue
		}
		configured++
		leads, err := e.fetchFeed(ctx, feed.url, feed.leadType)
		if err != nil {
			e.logger.Warn("feed failed", zap.String("type", string(feed.leadType)), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		out = append(out, leads...)
	}
	if configured == 0 {
		return nil, sentinel.NewFetchError(NameEnforcement, sentinel.FetchNotConfigured, sentinel.ErrNotConfigured)
	}
	if len(errs) == configured {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (e *Enforcement) fetchFeed(ctx context.Context, url string, leadType sentinel.LeadType) ([]sentinel.Lead, error) {
	resp, err := fetchOK(ctx, e.fetcher, NameEnforcement, url, nil)
	if err != nil {
		return nil, err
	}
	tbl, err := parseTable(resp.Body)
	if err != nil {
		return nil, sentinel.NewFetchError(NameEnforcement, sentinel.FetchParse, err)
	}
	if !tbl.has(colAddress...) || !tbl.has(colDescription...) {
		return nil, sentinel.NewFetchError(NameEnforcement, sentinel.FetchParse, errMissingColumns)
	}

	var leads []sentinel.Lead
	for _, row := range tbl.rows {
		desc := tbl.get(row, colDescription...)
		if len(matchKeywords(desc, e.cfg.Keywords)) == 0 {
			continue
		}
		leads = append(leads, sentinel.Lead{
			Type:        leadType,
			Address:     tbl.get(row, colAddress...),
			CaseID:      tbl.get(row, colCaseID...),
			Description: desc,
			DateOpened:  tbl.get(row, colDateOpened...),
		})
	}
	return leads, nil
}

var errMissingColumns = errors.New("feed is missing required columns")
