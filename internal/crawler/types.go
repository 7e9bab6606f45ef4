package crawler

import (
	"net/http"
	"strings"
	"time"
)

// NoMoreCapital is the reserved Capital name that marks the end of a
// producer's output on a hand-off queue.
const NoMoreCapital = "NO_MORE_CAPITAL"

// Capital is the entity discovered by the capital stage and handed to the
// forecast stage. It is treated as immutable once enqueued.
type Capital struct {
	Name      string  `json:"name" bson:"name"`
	Country   string  `json:"country" bson:"country"`
	ISO2Code  string  `json:"iso2_code" bson:"iso2_code"`
	ISO3Code  string  `json:"iso3_code,omitempty" bson:"iso3_code,omitempty"`
	Latitude  float64 `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty" bson:"longitude,omitempty"`
}

// SentinelCapital returns a fresh termination marker. Every call builds a new
// value; consumers must rely on IsTermination rather than identity.
func SentinelCapital() Capital {
	return Capital{Name: NoMoreCapital}
}

// IsTermination reports whether c carries the reserved identifier.
func (c Capital) IsTermination() bool {
	return c.Name == NoMoreCapital
}

// Slug renders a path segment from a display name: lower case, spaces and
// underscores collapsed to single hyphens, surrounding punctuation trimmed.
func Slug(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\'' || r == ','
	})
	return strings.Join(fields, "-")
}

// Forecast is one day of weather for a capital.
type Forecast struct {
	ISO2Code  string    `json:"iso2_code" bson:"iso2_code"`
	Capital   string    `json:"capital" bson:"capital"`
	Date      time.Time `json:"forecast_date" bson:"forecast_date"`
	Summary   string    `json:"summary" bson:"summary"`
	HighC     float64   `json:"high_c" bson:"high_c"`
	LowC      float64   `json:"low_c" bson:"low_c"`
	FetchedAt time.Time `json:"fetched_at" bson:"fetched_at"`
}

// SameReading reports whether two forecasts describe the same weather,
// ignoring when they were fetched.
func (f Forecast) SameReading(other Forecast) bool {
	return f.ISO2Code == other.ISO2Code &&
		f.Date.Equal(other.Date) &&
		f.Summary == other.Summary &&
		f.HighC == other.HighC &&
		f.LowC == other.LowC
}

// Article is a headline scraped from the news page.
type Article struct {
	URL       string    `json:"url" bson:"url"`
	Title     string    `json:"title" bson:"title"`
	Summary   string    `json:"summary,omitempty" bson:"summary,omitempty"`
	FetchedAt time.Time `json:"fetched_at" bson:"fetched_at"`
}

// Target names what a stage wants fetched: a catalog page, the positional
// arguments for its template, and query parameters.
type Target struct {
	Page     Page
	PathArgs []string
	Params   map[string]string
}

// FetchRequest is a resolved Target ready for a Fetcher.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
