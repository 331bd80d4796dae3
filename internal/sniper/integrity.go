package sniper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

var (
	fieldListingID = []string{"id", "listing_id", "listingId"}
	fieldURL       = []string{"url", "listing_url", "listingUrl"}
	fieldTitle     = []string{"title", "name"}
	fieldAddress   = []string{"address", "street_address", "streetAddress"}
	fieldZip       = []string{"zip", "zipcode", "postal_code", "postalCode"}
	fieldPermit    = []string{"license", "permit", "license_number", "permit_number", "licenseNumber", "permitNumber"}
)

// IntegrityConfig configures the listing integrity sniper.
type IntegrityConfig struct {
	URL          string
	Token        string
	ListingsPath string
	Zips         []string
	Window       time.Duration
}

// Integrity cross-references live rental listings from the scraper API
// against recently observed licenses.
type Integrity struct {
	cfg     IntegrityConfig
	fetcher sentinel.PageFetcher
	store   sentinel.SnapshotStore
	clock   sentinel.Clock
	logger  *zap.Logger
}

// NewIntegrity builds the integrity sniper.
func NewIntegrity(
	cfg IntegrityConfig,
	fetcher sentinel.PageFetcher,
	store sentinel.SnapshotStore,
	clock sentinel.Clock,
	logger *zap.Logger,
) *Integrity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Integrity{cfg: cfg, fetcher: fetcher, store: store, clock: clock, logger: logger.Named(NameIntegrity)}
}

// Name implements Source.
func (i *Integrity) Name() string { return NameIntegrity }

type listing struct {
	id, url, title, address, zip, permit string
}

// Fetch returns listings with no permit or with a permit and address that
// match nothing in the known set.
func (i *Integrity) Fetch(ctx context.Context) ([]sentinel.IntegrityRisk, error) {
	if i.cfg.URL == "" || i.cfg.Token == "" {
		return nil, sentinel.NewFetchError(NameIntegrity, sentinel.FetchNotConfigured, sentinel.ErrNotConfigured)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+i.cfg.Token)
	headers.Set("Accept", "application/json")
	resp, err := fetchOK(ctx, i.fetcher, NameIntegrity, i.cfg.URL, headers)
	if err != nil {
		return nil, err
	}
	listings, err := parseListings(resp.Body, i.cfg.ListingsPath)
	if err != nil {
		return nil, sentinel.NewFetchError(NameIntegrity, sentinel.FetchParse, err)
	}

	known, err := i.store.InWindow(ctx, sentinel.WindowQuery{
		Zips:  i.cfg.Zips,
		Since: i.clock.Now().Add(-i.cfg.Window),
	})
	if err != nil {
		return nil, sentinel.NewFetchError(NameIntegrity, sentinel.FetchStore, err)
	}
	knownIDs := make(map[string]struct{}, len(known))
	knownAddrs := make(map[string]struct{}, len(known))
	for _, r := range known {
		knownIDs[sentinel.NormalizeID(r.LicenseID)] = struct{}{}
		if a := sentinel.NormalizeAddress(r.Address); a != "" {
			knownAddrs[a] = struct{}{}
		}
	}

	var risks []sentinel.IntegrityRisk
	for _, l := range listings {
		zip := normalizeZip(l.zip)
		if zip != "" && !zipAllowed(i.cfg.Zips, zip) {
			continue
		}
		var reason string
		switch {
		case sentinel.NormalizeID(l.permit) == "":
			reason = sentinel.ReasonMissingPermit
		default:
			_, idKnown := knownIDs[sentinel.NormalizeID(l.permit)]
			_, addrKnown := knownAddrs[sentinel.NormalizeAddress(l.address)]
			if !idKnown && !addrKnown {
				reason = sentinel.ReasonUnknownPermit
			}
		}
		if reason == "" {
			continue
		}
		risks = append(risks, sentinel.IntegrityRisk{
			ListingID:    l.id,
			URL:          l.url,
			Title:        l.title,
			Address:      l.address,
			Zip:          zip,
			PermitNumber: l.permit,
			Reason:       reason,
		})
	}
	i.logger.Info("integrity check complete",
		zap.Int("listings", len(listings)),
		zap.Int("known_licenses", len(knownIDs)),
		zap.Int("risks", len(risks)),
	)
	return risks, nil
}

func parseListings(body []byte, path string) ([]listing, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("scraper response is not valid JSON")
	}
	result := gjson.ParseBytes(body)
	if path != "" {
		result = result.Get(path)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("no listings array at %q", path)
	}
	var out []listing
	result.ForEach(func(_, item gjson.Result) bool {
		l := listing{
			id:      firstString(item, fieldListingID),
			url:     firstString(item, fieldURL),
			title:   firstString(item, fieldTitle),
			address: firstString(item, fieldAddress),
			zip:     firstString(item, fieldZip),
			permit:  firstString(item, fieldPermit),
		}
		if l.id == "" {
			l.id = l.url
		}
		out = append(out, l)
		return true
	})
	return out, nil
}

func firstString(item gjson.Result, fields []string) string {
	for _, f := range fields {
		if v := item.Get(f); v.Exists() && v.Type != gjson.Null {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}
