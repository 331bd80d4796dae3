// Package sentinel defines core types shared across the lead pipeline.
package sentinel

import (
	"net/http"
	"time"
)

// LeadType discriminates the Lead union.
type LeadType string

// Lead types emitted by the snipers.
const (
	LeadCodeEnforcement LeadType = "code_enforcement"
	LeadParking         LeadType = "parking"
	LeadStroLicense     LeadType = "stro_license"
)

// Lead is a candidate property, case or license surfaced by a sniper.
// Enforcement and parking leads populate CaseID, Description and DateOpened.
// STRO license leads populate LicenseID, Zip, Tier and the contact fields.
type Lead struct {
	Type              LeadType `json:"type"`
	Address           string   `json:"address"`
	CaseID            string   `json:"caseId,omitempty"`
	Description       string   `json:"description,omitempty"`
	DateOpened        string   `json:"dateOpened,omitempty"`
	LicenseID         string   `json:"licenseId,omitempty"`
	Zip               string   `json:"zip,omitempty"`
	Tier              int      `json:"tier,omitempty"`
	LocalContactName  string   `json:"localContactName,omitempty"`
	LocalContactPhone string   `json:"localContactPhone,omitempty"`
	HostContactName   string   `json:"hostContactName,omitempty"`
}

// LeadKey identifies a lead within a single run.
type LeadKey struct {
	Type LeadType
	ID   string
}

// Key returns the (type, caseId|licenseId) identity of the lead.
func (l Lead) Key() LeadKey {
	if l.Type == LeadStroLicense {
		return LeadKey{Type: l.Type, ID: l.LicenseID}
	}
	return LeadKey{Type: l.Type, ID: l.CaseID}
}

// Contact is a resolved human or business contact.
type Contact struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"pmCompany,omitempty"`
}

// IsZero reports whether no contact field was resolved.
func (c Contact) IsZero() bool {
	return c == Contact{}
}

// EnrichedTarget is a digest entry. It is never persisted.
type EnrichedTarget struct {
	Type      LeadType `json:"type"`
	Address   string   `json:"address"`
	CaseID    string   `json:"caseId,omitempty"`
	LicenseID string   `json:"licenseId,omitempty"`
	Contact   Contact  `json:"contact"`
}

// LegislativeAlert is a council meeting whose agenda matched a docket keyword.
type LegislativeAlert struct {
	MeetingID       string    `json:"meetingId"`
	MeetingDate     time.Time `json:"meetingDate"`
	Title           string    `json:"title"`
	Link            string    `json:"link"`
	MatchedKeywords []string  `json:"matchedKeywords"`
}

// Integrity risk reasons.
const (
	ReasonMissingPermit = "missing_permit"
	ReasonUnknownPermit = "unknown_permit"
	ReasonNoStroLicense = "no_stro_license"
)

// IntegrityRisk is a live rental listing that cannot be matched to a known license.
type IntegrityRisk struct {
	ListingID    string `json:"listingId"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	Address      string `json:"address,omitempty"`
	Zip          string `json:"zip,omitempty"`
	PermitNumber string `json:"permitNumber,omitempty"`
	Reason       string `json:"reason"`
}

// ExpiringLicense is a known license whose expiration falls inside the renewal window.
type ExpiringLicense struct {
	LicenseID         string    `json:"licenseId"`
	Address           string    `json:"address"`
	Zip               string    `json:"zip"`
	Tier              int       `json:"tier"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LocalContactName  string    `json:"localContactName,omitempty"`
	LocalContactPhone string    `json:"localContactPhone,omitempty"`
	HostContactName   string    `json:"hostContactName,omitempty"`
}

// TaxRisk is a transient occupancy tax certificate with no matching STRO license.
type TaxRisk struct {
	CertificateID string `json:"certificateId"`
	BusinessName  string `json:"businessName,omitempty"`
	Address       string `json:"address"`
	Zip           string `json:"zip,omitempty"`
	Reason        string `json:"reason"`
}

// SnapshotRow is one observation of a STRO license on a given day.
type SnapshotRow struct {
	LicenseID         string     `json:"licenseId"`
	Address           string     `json:"address"`
	Zip               string     `json:"zip"`
	Tier              int        `json:"tier"`
	LocalContactName  string     `json:"localContactName,omitempty"`
	LocalContactPhone string     `json:"localContactPhone,omitempty"`
	HostContactName   string     `json:"hostContactName,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	IngestedAt        time.Time  `json:"ingestedAt"`
}

// Lead converts the row into a STRO license lead.
func (r SnapshotRow) Lead() Lead {
	return Lead{
		Type:              LeadStroLicense,
		Address:           r.Address,
		LicenseID:         r.LicenseID,
		Zip:               r.Zip,
		Tier:              r.Tier,
		LocalContactName:  r.LocalContactName,
		LocalContactPhone: r.LocalContactPhone,
		HostContactName:   r.HostContactName,
	}
}

// WindowQuery selects snapshot rows ingested in [Since, Until).
// A zero Until means no upper bound, empty Zips means every zip and
// a zero Limit means no limit.
type WindowQuery struct {
	Zips  []string
	Since time.Time
	Until time.Time
	Limit int
}

// DocketRow records a meeting that has already been alerted on.
type DocketRow struct {
	MeetingID   string    `json:"meetingId"`
	MeetingDate time.Time `json:"meetingDate"`
	Link        string    `json:"link"`
	AlertedAt   time.Time `json:"alertedAt"`
}

// RunStatus is the terminal status recorded in the run log.
type RunStatus string

// Run statuses.
const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunLog is written once at the end of every pipeline run.
type RunLog struct {
	RunID               string    `json:"runId"`
	StartedAt           time.Time `json:"startedAt"`
	FinishedAt          time.Time `json:"finishedAt"`
	AlertsCount         int       `json:"alertsCount"`
	IntegrityRisksCount int       `json:"integrityRisksCount"`
	ExpiringCount       int       `json:"expiringCount"`
	TaxRisksCount       int       `json:"taxRisksCount"`
	DistressedCount     int       `json:"distressedCount"`
	NewEntrantsCount    int       `json:"newEntrantsCount"`
	TotalTargets        int       `json:"totalTargets"`
	Status              RunStatus `json:"status"`
	Error               string    `json:"error,omitempty"`
}

// Digest is the merged per-run output handed to the notifier.
type Digest struct {
	RunID             string             `json:"runId"`
	GeneratedAt       time.Time          `json:"generatedAt"`
	Targets           []EnrichedTarget   `json:"targets"`
	LegislativeAlerts []LegislativeAlert `json:"legislativeAlerts"`
	IntegrityRisks    []IntegrityRisk    `json:"integrityRisks"`
	ExpiringLicenses  []ExpiringLicense  `json:"expiringLicenses"`
	TaxRisks          []TaxRisk          `json:"taxRisks"`
}

// FetchRequest describes a single feed retrieval.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the retrieved document.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
