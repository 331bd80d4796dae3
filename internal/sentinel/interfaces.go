package sentinel

import (
	"context"
	"io"
	"time"
)

// SnapshotStore is the append-only STRO snapshot log. It has no update or delete.
type SnapshotStore interface {
	// OlderThan returns rows ingested before cutoff whose license id is in licenseIDs.
	OlderThan(ctx context.Context, cutoff time.Time, licenseIDs []string) ([]SnapshotRow, error)
	// InWindow returns rows matching the zip/time window.
	InWindow(ctx context.Context, q WindowQuery) ([]SnapshotRow, error)
	// ExpiringBetween returns rows whose expiration falls in [from, to].
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]SnapshotRow, error)
	// Append inserts new rows.
	Append(ctx context.Context, rows ...SnapshotRow) error
}

// DocketStore is the append-only docket alert history.
type DocketStore interface {
	HasAlerted(ctx context.Context, meetingID string) (bool, error)
	RecordAlert(ctx context.Context, row DocketRow) error
}

// RunLogger persists one RunLog per pipeline run.
type RunLogger interface {
	Log(ctx context.Context, entry RunLog) error
}

// Notifier delivers a digest. A nil error means the delivery was accepted.
type Notifier interface {
	Send(ctx context.Context, digest Digest) error
}

// ContactSearcher resolves a contact for leads that carry none.
type ContactSearcher interface {
	Search(ctx context.Context, lead Lead) (Contact, error)
}

// PageFetcher retrieves a document over HTTP or a browser.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
