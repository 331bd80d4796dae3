package enrich

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/contact"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

type stubSearcher struct {
	calls   int
	contact sentinel.Contact
	err     error
}

func (s *stubSearcher) Search(context.Context, sentinel.Lead) (sentinel.Contact, error) {
	s.calls++
	return s.contact, s.err
}

func TestEnrichCapsAtLimit(t *testing.T) {
	t.Parallel()

	leads := make([]sentinel.Lead, 200)
	for i := range leads {
		leads[i] = sentinel.Lead{Type: sentinel.LeadCodeEnforcement, CaseID: fmt.Sprintf("CE-%d", i), Address: fmt.Sprintf("%d Main St", i)}
	}
	searcher := &stubSearcher{}
	got := New(searcher, DefaultLimit, zap.NewNop()).Enrich(context.Background(), leads)

	require.Len(t, got, 50)
	assert.Equal(t, 50, searcher.calls)
	assert.Equal(t, "CE-0", got[0].CaseID)
	assert.Equal(t, "CE-49", got[49].CaseID)
}

func TestEnrichLicenseContactFromLead(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{contact: sentinel.Contact{Name: "should not be used"}}
	e := New(searcher, 0, nil)
	got := e.Enrich(context.Background(), []sentinel.Lead{
		{Type: sentinel.LeadStroLicense, LicenseID: "STR-1", Address: "1 Main", LocalContactName: "Ana", LocalContactPhone: "555-0100", HostContactName: "Host"},
		{Type: sentinel.LeadStroLicense, LicenseID: "STR-2", Address: "2 Main", HostContactName: "Host Only"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, sentinel.Contact{Name: "Ana", Phone: "555-0100"}, got[0].Contact)
	assert.Equal(t, sentinel.Contact{Name: "Host Only"}, got[1].Contact)
	assert.Equal(t, "STR-1", got[0].LicenseID)
	assert.Zero(t, searcher.calls)
}

func TestEnrichSearchErrorYieldsEmptyContact(t *testing.T) {
	t.Parallel()

	e := New(&stubSearcher{err: errors.New("quota exceeded")}, 10, zap.NewNop())
	got := e.Enrich(context.Background(), []sentinel.Lead{{Type: sentinel.LeadParking, CaseID: "P-1", Address: "3 Oak"}})
	require.Len(t, got, 1)
	assert.True(t, got[0].Contact.IsZero())
}

func TestEnrichWithNoopSearcher(t *testing.T) {
	t.Parallel()

	e := New(contact.NewNoop(), 10, zap.NewNop())
	got := e.Enrich(context.Background(), []sentinel.Lead{{Type: sentinel.LeadCodeEnforcement, CaseID: "CE-1", Address: "1 Main"}})
	require.Len(t, got, 1)
	assert.Equal(t, sentinel.LeadCodeEnforcement, got[0].Type)
	assert.True(t, got[0].Contact.IsZero())
}
