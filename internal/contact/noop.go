// Package contact resolves owner and property-manager contacts for leads.
package contact

import (
	"context"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// Noop implements sentinel.ContactSearcher and never finds anything.
type Noop struct{}

// NewNoop returns a Noop searcher.
func NewNoop() Noop {
	return Noop{}
}

// Search returns an empty contact.
func (Noop) Search(context.Context, sentinel.Lead) (sentinel.Contact, error) {
	return sentinel.Contact{}, nil
}
