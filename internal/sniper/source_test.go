package sniper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

type errFetcher struct{ err error }

func (f errFetcher) Fetch(context.Context, sentinel.FetchRequest) (sentinel.FetchResponse, error) {
	return sentinel.FetchResponse{}, f.err
}

func TestFetchOKClassifiesFailures(t *testing.T) {
	t.Parallel()

	_, err := fetchOK(context.Background(), nil, "x", "http://example.gov", nil)
	assert.Equal(t, sentinel.FetchNotConfigured, sentinel.KindOf(err))

	_, err = fetchOK(context.Background(), errFetcher{err: errors.New("refused")}, "x", "http://example.gov", nil)
	assert.Equal(t, sentinel.FetchNetwork, sentinel.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetchOK(ctx, errFetcher{err: context.Canceled}, "x", "http://example.gov", nil)
	assert.Equal(t, sentinel.FetchTimeout, sentinel.KindOf(err))

	fs := newFeedServer(t)
	_, err = fetchOK(context.Background(), newTestFetcher(), "x", fs.fail("/gone.csv", 503), nil)
	assert.Equal(t, sentinel.FetchStatus, sentinel.KindOf(err))
}

func TestStartOfDay(t *testing.T) {
	t.Parallel()

	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	// 05:00 UTC on Mar 10 is still Mar 9 in Los Angeles.
	got := StartOfDay(time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC), la)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, la), got)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), StartOfDay(testNow, nil))
}

func TestParseDateLayouts(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-03-12", "03/12/2026", "3/12/2026", "March 12, 2026", "Mar 12, 2026", "Thursday, March 12, 2026"} {
		got, ok := parseDate(in, time.UTC)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), in)
	}
	_, ok := parseDate("City Council", time.UTC)
	assert.False(t, ok)
	_, ok = parseDate("  ", nil)
	assert.False(t, ok)
}

func TestSmallHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "92109", normalizeZip(" 92109-1234 "))
	assert.True(t, zipAllowed(nil, "00000"))
	assert.False(t, zipAllowed([]string{"92109"}, "92037"))
	assert.Equal(t, []string{"vacant", "fire damage"},
		matchKeywords("VACANT lot with Fire Damage", []string{"vacant", "hoarding", "Fire Damage", " "}))

	for in, want := range map[string]int{"3": 3, "Tier 4": 4, "TIER-3": 3} {
		got, ok := parseTier(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := parseTier("n/a")
	assert.False(t, ok)
}

func TestParseTableAliases(t *testing.T) {
	t.Parallel()

	tbl, err := parseTable([]byte("\xef\xbb\xbfCase Number,Street-Address,Violation\nCE-1, 1 Main St ,Vacant\nshort\n"))
	require.NoError(t, err)
	require.Len(t, tbl.rows, 2)
	assert.True(t, tbl.has(colCaseID...))
	assert.Equal(t, "CE-1", tbl.get(tbl.rows[0], colCaseID...))
	assert.Equal(t, "1 Main St", tbl.get(tbl.rows[0], colAddress...))
	assert.Equal(t, "", tbl.get(tbl.rows[1], colDescription...), "short rows read as empty")
	assert.Equal(t, "", tbl.get(tbl.rows[0], colDateOpened...))

	_, err = parseTable(nil)
	assert.Error(t, err)
}
