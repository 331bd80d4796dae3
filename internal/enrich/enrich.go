// Package enrich attaches contacts to the leads that make it into the digest.
package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// DefaultLimit caps how many leads are enriched per run.
const DefaultLimit = 50

// Enricher resolves contacts for up to Limit leads.
type Enricher struct {
	searcher sentinel.ContactSearcher
	limit    int
	logger   *zap.Logger
}

// New builds an Enricher. A non-positive limit falls back to DefaultLimit.
func New(searcher sentinel.ContactSearcher, limit int, logger *zap.Logger) *Enricher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{searcher: searcher, limit: limit, logger: logger.Named("enrich")}
}

// Enrich returns one target per lead for the first Limit leads, in order.
// License leads carry their own contact; other leads go through the searcher.
func (e *Enricher) Enrich(ctx context.Context, leads []sentinel.Lead) []sentinel.EnrichedTarget {
	if len(leads) > e.limit {
		leads = leads[:e.limit]
	}
	out := make([]sentinel.EnrichedTarget, 0, len(leads))
	for _, lead := range leads {
		out = append(out, sentinel.EnrichedTarget{
			Type:      lead.Type,
			Address:   lead.Address,
			CaseID:    lead.CaseID,
			LicenseID: lead.LicenseID,
			Contact:   e.contactFor(ctx, lead),
		})
	}
	return out
}

func (e *Enricher) contactFor(ctx context.Context, lead sentinel.Lead) sentinel.Contact {
	if lead.Type == sentinel.LeadStroLicense {
		name := lead.LocalContactName
		if name == "" {
			name = lead.HostContactName
		}
		return sentinel.Contact{Name: name, Phone: lead.LocalContactPhone}
	}
	if e.searcher == nil {
		return sentinel.Contact{}
	}
	contact, err := e.searcher.Search(ctx, lead)
	if err != nil {
		e.logger.Warn("contact search failed",
			zap.String("type", string(lead.Type)),
			zap.String("case_id", lead.CaseID),
			zap.Error(err),
		)
		return sentinel.Contact{}
	}
	return contact
}
