package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/capital-forecast-crawler/internal/clock/system"
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// ForecastWorkerName names the forecast stage's worker and error log.
const ForecastWorkerName = "ForecastWorker"

// DefaultWindow is the number of days published per capital.
const DefaultWindow = 7

// ForecastUpdate is the notification published after a capital's forecasts
// were stored. Window holds the most recent days, oldest first.
type ForecastUpdate struct {
	ISO2Code  string             `json:"iso2_code"`
	Capital   string             `json:"capital"`
	Country   string             `json:"country"`
	Inserted  int                `json:"inserted"`
	Updated   int                `json:"updated"`
	Unchanged int                `json:"unchanged"`
	Window    []crawler.Forecast `json:"window"`
}

// ForecastOption configures a ForecastStage.
type ForecastOption func(*ForecastStage)

// WithPublisher publishes a ForecastUpdate to topic after each capital.
func WithPublisher(pub crawler.Publisher, topic string) ForecastOption {
	return func(s *ForecastStage) {
		s.publisher = pub
		s.topic = topic
	}
}

// WithWindow overrides DefaultWindow.
func WithWindow(days int) ForecastOption {
	return func(s *ForecastStage) {
		if days > 0 {
			s.window = days
		}
	}
}

// WithForecastClock sets the clock stamped into FetchedAt.
func WithForecastClock(clock crawler.Clock) ForecastOption {
	return func(s *ForecastStage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// ForecastStage fetches the weather page of each handed-off capital.
type ForecastStage struct {
	page      crawler.Page
	sel       ForecastSelectors
	store     crawler.ForecastStore
	publisher crawler.Publisher
	topic     string
	window    int
	clock     crawler.Clock
}

// NewForecastStage builds the stage for the weather page.
func NewForecastStage(
	page crawler.Page,
	sel ForecastSelectors,
	store crawler.ForecastStore,
	opts ...ForecastOption,
) *ForecastStage {
	s := &ForecastStage{
		page:   page,
		sel:    sel,
		store:  store,
		window: DefaultWindow,
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements worker.Consumer.
func (*ForecastStage) Name() string { return ForecastWorkerName }

// Target fills the weather template with the country and capital slugs.
func (s *ForecastStage) Target(capital crawler.Capital) (crawler.Target, error) {
	country, city := crawler.Slug(capital.Country), crawler.Slug(capital.Name)
	if country == "" || city == "" {
		return crawler.Target{}, fmt.Errorf("capital %q has no country or name to build a url", capital.ISO2Code)
	}
	return crawler.Target{Page: s.page, PathArgs: []string{country, city}}, nil
}

// Process stores each forecast row. An existing forecast for the same day
// is rewritten only when its reading changed.
func (s *ForecastStage) Process(ctx context.Context, capital crawler.Capital, body []byte) error {
	forecasts, err := s.parse(capital, body)
	if err != nil {
		return err
	}
	update := ForecastUpdate{ISO2Code: capital.ISO2Code, Capital: capital.Name, Country: capital.Country}
	var errs []error
	for _, f := range forecasts {
		existing, err := s.store.FindByCodeAndDate(ctx, f.ISO2Code, f.Date)
		switch {
		case errors.Is(err, crawler.ErrNotFound):
			update.Inserted++
		case err != nil:
			errs = append(errs, fmt.Errorf("find forecast %s: %w", f.Date.Format(time.DateOnly), err))
			continue
		case existing.SameReading(f):
			update.Unchanged++
			continue
		default:
			update.Updated++
		}
		if err := s.store.UpsertForecast(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("upsert forecast %s: %w", f.Date.Format(time.DateOnly), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return s.publish(ctx, update)
}

func (s *ForecastStage) publish(ctx context.Context, update ForecastUpdate) error {
	if s.publisher == nil {
		return nil
	}
	window, err := s.store.FindLatest(ctx, update.ISO2Code, s.window)
	if err != nil {
		return fmt.Errorf("load forecast window: %w", err)
	}
	update.Window = window
	if _, err := s.publisher.Publish(ctx, s.topic, update); err != nil {
		return fmt.Errorf("publish forecast update: %w", err)
	}
	return nil
}

func (s *ForecastStage) parse(capital crawler.Capital, body []byte) ([]crawler.Forecast, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var (
		out   []crawler.Forecast
		first error
	)
	doc.Find(s.sel.Row).Each(func(i int, row *goquery.Selection) {
		f, err := s.forecastFromRow(row)
		if err != nil {
			if first == nil {
				first = fmt.Errorf("row %d: %w", i, err)
			}
			return
		}
		f.ISO2Code = capital.ISO2Code
		f.Capital = capital.Name
		f.FetchedAt = now
		out = append(out, f)
	})
	if len(out) == 0 {
		if first != nil {
			return nil, first
		}
		return nil, fmt.Errorf("no forecast rows matched %q", s.sel.Row)
	}
	return out, nil
}

func (s *ForecastStage) forecastFromRow(row *goquery.Selection) (crawler.Forecast, error) {
	raw := text(row, s.sel.Date)
	if s.sel.DateAttr != "" {
		raw = attr(row, s.sel.Date, s.sel.DateAttr)
	}
	date, err := time.ParseInLocation(s.sel.DateLayout, raw, time.UTC)
	if err != nil {
		return crawler.Forecast{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	high, err := parseCelsius(text(row, s.sel.High))
	if err != nil {
		return crawler.Forecast{}, fmt.Errorf("high: %w", err)
	}
	low, err := parseCelsius(text(row, s.sel.Low))
	if err != nil {
		return crawler.Forecast{}, fmt.Errorf("low: %w", err)
	}
	return crawler.Forecast{
		Date:    date,
		HighC:   high,
		LowC:    low,
		Summary: text(row, s.sel.Summary),
	}, nil
}
