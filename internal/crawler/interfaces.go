package crawler

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound signals that a store has no matching record.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidEncoding marks a response body that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("response body is not valid UTF-8")
)

// Fetcher fetches a URL and returns the body plus metadata. A non-nil error
// means the fetch failed and the response must be ignored.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, request FetchRequest) (FetchResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	return f(ctx, request)
}

// CapitalStore persists discovered capitals keyed by ISO-2 code.
type CapitalStore interface {
	UpsertCapital(ctx context.Context, capital Capital) error
}

// ForecastStore persists daily forecasts keyed by (ISO-2 code, date).
type ForecastStore interface {
	UpsertForecast(ctx context.Context, forecast Forecast) error
	// FindLatest returns up to n forecasts for code ordered by date ascending.
	FindLatest(ctx context.Context, code string, n int) ([]Forecast, error)
	// FindByCodeAndDate returns ErrNotFound when no row matches.
	FindByCodeAndDate(ctx context.Context, code string, date time.Time) (Forecast, error)
}

// ArticleStore persists news headlines keyed by URL.
type ArticleStore interface {
	UpsertArticle(ctx context.Context, article Article) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
