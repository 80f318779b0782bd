package crawler

import (
	"context"
	"io"
	"time"
)

// Session is an isolated browsing context (a tab, or a single HTTP document).
// Sessions are not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, rawURL string, readiness Readiness) error
	WaitFor(ctx context.Context, selector string) error
	Fields(ctx context.Context, specs []FieldSpec) (map[string]string, error)
	Links(ctx context.Context, selector string) ([]string, error)
	Close() error
}

// Browser opens isolated sessions. Implementations must be safe for
// concurrent use.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// LinkDiscoverer produces the ordered detail links for a run.
type LinkDiscoverer interface {
	Discover(ctx context.Context, pages PageRange) ([]SourceLink, error)
}

// Fetcher extracts one detail page. ok is false when the result is absent.
type Fetcher interface {
	Fetch(ctx context.Context, link SourceLink) (result ExtractionResult, ok bool, err error)
}

// RankingStore persists a complete ranking in one unit of work.
type RankingStore interface {
	SaveBestsellers(ctx context.Context, records []BookRecord) error
	ListRanked(ctx context.Context) ([]StoredBook, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes refresh events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
