package sentinel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"123 Main St", "123 main st"},
		{"  123  MAIN\tst  ", "123 main st"},
		{"456 Oak Ave\n Unit 2", "456 oak ave unit 2"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeAddress(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "STR-001", NormalizeID(" str-001 "))
	require.Equal(t, "STR001", NormalizeID("str 001"))
}

func TestLeadKey(t *testing.T) {
	t.Parallel()

	lic := Lead{Type: LeadStroLicense, LicenseID: "STR-1", CaseID: "ignored"}
	require.Equal(t, LeadKey{Type: LeadStroLicense, ID: "STR-1"}, lic.Key())

	ce := Lead{Type: LeadCodeEnforcement, CaseID: "CE-9"}
	require.Equal(t, LeadKey{Type: LeadCodeEnforcement, ID: "CE-9"}, ce.Key())
}

func TestSnapshotRowLead(t *testing.T) {
	t.Parallel()

	row := SnapshotRow{LicenseID: "STR-1", Address: "1 A St", Zip: "92109", Tier: 3, HostContactName: "Host"}
	lead := row.Lead()
	require.Equal(t, LeadStroLicense, lead.Type)
	require.Equal(t, "STR-1", lead.LicenseID)
	require.Equal(t, "Host", lead.HostContactName)
}

func TestFetchErrorWrapping(t *testing.T) {
	t.Parallel()

	base := context.DeadlineExceeded
	err := fmt.Errorf("outer: %w", NewFetchError("licenses", FetchTimeout, base))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, FetchTimeout, KindOf(err))
	require.Contains(t, err.Error(), "licenses: timeout failure")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "licenses", fe.Source)

	require.Equal(t, FetchErrorKind(""), KindOf(errors.New("plain")))
	require.Equal(t, "tot: not_configured failure", NewFetchError("tot", FetchNotConfigured, nil).Error())
}

func TestContactIsZero(t *testing.T) {
	t.Parallel()

	require.True(t, Contact{}.IsZero())
	require.False(t, Contact{Phone: "555"}.IsZero())
}
