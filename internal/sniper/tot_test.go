package sniper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
	"github.com/JakeFAU/municipal-sentinel/internal/storage/memory"
)

const totCSV = `Certificate Number,Business Name,Address,Zip
T-1,Main Stay,1 MAIN  ST,92109
T-2,Ghost BnB,7 Elm St,92109-0001
T-3,Elsewhere Inn,8 Oak St,90210
T-4,No Address,,92109
T-5,No Zip,9 Pine St,
`

func TestTOTFlagsUnlicensedCertificates(t *testing.T) {
	t.Parallel()

	fs := newFeedServer(t)
	store := memory.NewStore()
	require.NoError(t, store.Append(context.Background(), sentinel.SnapshotRow{
		LicenseID: "STR-001", Address: "1 Main St", Zip: "92109", Tier: 3, IngestedAt: testNow.Add(-24 * time.Hour),
	}))
	tot := NewTOT(TOTConfig{
		URL:    fs.serve("/tot.csv", totCSV),
		Zips:   []string{"92109"},
		Window: 7 * 24 * time.Hour,
	}, newTestFetcher(), store, &fixedClock{now: testNow}, nil)

	risks, err := tot.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []sentinel.TaxRisk{{
		CertificateID: "T-2",
		BusinessName:  "Ghost BnB",
		Address:       "7 Elm St",
		Zip:           "92109",
		Reason:        sentinel.ReasonNoStroLicense,
	}}, risks)
}

func TestTOTSkipsWithoutLicenseHistory(t *testing.T) {
	t.Parallel()

	fs := newFeedServer(t)
	store := memory.NewStore()
	require.NoError(t, store.Append(context.Background(), sentinel.SnapshotRow{
		LicenseID: "STR-001", Address: "1 Main St", Zip: "92109", Tier: 3, IngestedAt: testNow.Add(-30 * 24 * time.Hour),
	}))
	tot := NewTOT(TOTConfig{
		URL:    fs.serve("/tot.csv", totCSV),
		Window: 7 * 24 * time.Hour,
	}, newTestFetcher(), store, &fixedClock{now: testNow}, nil)

	risks, err := tot.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, risks)
	assert.Equal(t, 0, fs.hitCount("/tot.csv"))
}

func TestTOTFailures(t *testing.T) {
	t.Parallel()

	fs := newFeedServer(t)
	store := memory.NewStore()
	require.NoError(t, store.Append(context.Background(), sentinel.SnapshotRow{
		LicenseID: "STR-001", Address: "1 Main St", Zip: "92109", Tier: 3, IngestedAt: testNow,
	}))
	clock := &fixedClock{now: testNow}

	_, err := NewTOT(TOTConfig{}, newTestFetcher(), store, clock, nil).Fetch(context.Background())
	assert.Equal(t, sentinel.FetchNotConfigured, sentinel.KindOf(err))

	_, err = NewTOT(TOTConfig{URL: fs.fail("/tot.csv", 500), Window: time.Hour}, newTestFetcher(), store, clock, nil).
		Fetch(context.Background())
	assert.Equal(t, sentinel.FetchStatus, sentinel.KindOf(err))

	_, err = NewTOT(TOTConfig{URL: fs.serve("/other.csv", "id,owner\n1,x\n"), Window: time.Hour}, newTestFetcher(), store, clock, nil).
		Fetch(context.Background())
	assert.Equal(t, sentinel.FetchParse, sentinel.KindOf(err))
}
