// Package sniper contains the six source fetchers that feed the digest.
// Each returns a typed slice or a *sentinel.FetchError; none of them retry.
package sniper

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// Source names, also used as metric and log labels.
const (
	NameEnforcement = "enforcement"
	NameLicenses    = "licenses"
	NameDockets     = "dockets"
	NameIntegrity   = "integrity"
	NameRenewal     = "renewal"
	NameTOT         = "tot"
)

// Source produces one category of digest input.
type Source[T any] interface {
	Name() string
	Fetch(ctx context.Context) ([]T, error)
}

// fetchOK retrieves url and returns the body of a 2xx response.
func fetchOK(ctx context.Context, fetcher sentinel.PageFetcher, source, url string, headers http.Header) (sentinel.FetchResponse, error) {
	if fetcher == nil {
		return sentinel.FetchResponse{}, sentinel.NewFetchError(source, sentinel.FetchNotConfigured, fmt.Errorf("no fetcher"))
	}
	resp, err := fetcher.Fetch(ctx, sentinel.FetchRequest{URL: url, Headers: headers})
	if err != nil {
		kind := sentinel.FetchNetwork
		if ctx.Err() != nil {
			kind = sentinel.FetchTimeout
		}
		return sentinel.FetchResponse{}, sentinel.NewFetchError(source, kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return sentinel.FetchResponse{}, sentinel.NewFetchError(source, sentinel.FetchStatus,
			fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode))
	}
	return resp, nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// normalizeZip keeps the five-digit prefix of a ZIP or ZIP+4.
func normalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexAny(zip, "- "); i > 0 {
		zip = zip[:i]
	}
	return zip
}

// zipAllowed reports whether zip is targeted. An empty target list allows every zip.
func zipAllowed(targets []string, zip string) bool {
	return len(targets) == 0 || slices.Contains(targets, zip)
}

// matchKeywords returns the keywords found in text, case-insensitively, in keyword order.
func matchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
}

// parseDate tries the known feed layouts in loc.
func parseDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
