package contact

import (
	"context"
	"testing"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

func TestNoopReturnsEmptyContact(t *testing.T) {
	t.Parallel()

	var searcher sentinel.ContactSearcher = NewNoop()
	got, err := searcher.Search(context.Background(), sentinel.Lead{Type: sentinel.LeadCodeEnforcement, Address: "1 Main St"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected empty contact, got %+v", got)
	}
}
