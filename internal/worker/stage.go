package worker

import (
	"context"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// Producer is a stage that walks a finite list of targets. Discover parses a
// fetched body, persists what it found and returns the capitals to hand off,
// in document order. A non-nil error marks the target failed; any capitals
// returned alongside it are still handed off.
type Producer interface {
	Name() string
	Targets() []crawler.Target
	Discover(ctx context.Context, target crawler.Target, body []byte) ([]crawler.Capital, error)
}

// Consumer is a stage fed by an upstream queue. Process is only called
// after a successful fetch.
type Consumer interface {
	Name() string
	Target(capital crawler.Capital) (crawler.Target, error)
	Process(ctx context.Context, capital crawler.Capital, body []byte) error
}
