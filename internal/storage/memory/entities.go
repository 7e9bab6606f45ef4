package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// EntityStore implements crawler.CapitalStore, crawler.ForecastStore and
// crawler.ArticleStore over maps.
type EntityStore struct {
	mu        sync.RWMutex
	capitals  map[string]crawler.Capital
	forecasts map[string]map[string]crawler.Forecast
	articles  map[string]crawler.Article
}

// NewEntityStore creates an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		capitals:  make(map[string]crawler.Capital),
		forecasts: make(map[string]map[string]crawler.Forecast),
		articles:  make(map[string]crawler.Article),
	}
}

// UpsertCapital stores the capital under its upper-cased ISO-2 code.
func (s *EntityStore) UpsertCapital(_ context.Context, capital crawler.Capital) error {
	code := strings.ToUpper(strings.TrimSpace(capital.ISO2Code))
	if code == "" {
		return errors.New("capital has no ISO-2 code")
	}
	capital.ISO2Code = code
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capitals[code] = capital
	return nil
}

// Capital returns the capital stored for code.
func (s *EntityStore) Capital(code string) (crawler.Capital, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.capitals[strings.ToUpper(code)]
	return c, ok
}

// Capitals returns every stored capital ordered by ISO-2 code.
func (s *EntityStore) Capitals() []crawler.Capital {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Capital, 0, len(s.capitals))
	for _, c := range s.capitals {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISO2Code < out[j].ISO2Code })
	return out
}

// UpsertForecast stores the forecast under (code, calendar day).
func (s *EntityStore) UpsertForecast(_ context.Context, forecast crawler.Forecast) error {
	code := strings.ToUpper(forecast.ISO2Code)
	if code == "" {
		return errors.New("forecast has no ISO-2 code")
	}
	forecast.ISO2Code = code
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay, ok := s.forecasts[code]
	if !ok {
		byDay = make(map[string]crawler.Forecast)
		s.forecasts[code] = byDay
	}
	byDay[dayKey(forecast.Date)] = forecast
	return nil
}

// FindLatest returns the n most recent forecasts for code, oldest first.
func (s *EntityStore) FindLatest(_ context.Context, code string, n int) ([]crawler.Forecast, error) {
	if n <= 0 {
		return []crawler.Forecast{}, nil
	}
	s.mu.RLock()
	byDay := s.forecasts[strings.ToUpper(code)]
	out := make([]crawler.Forecast, 0, len(byDay))
	for _, f := range byDay {
		out = append(out, f)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// FindByCodeAndDate returns crawler.ErrNotFound when no forecast matches.
func (s *EntityStore) FindByCodeAndDate(_ context.Context, code string, date time.Time) (crawler.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forecasts[strings.ToUpper(code)][dayKey(date)]
	if !ok {
		return crawler.Forecast{}, crawler.ErrNotFound
	}
	return f, nil
}

// UpsertArticle stores the article under its URL.
func (s *EntityStore) UpsertArticle(_ context.Context, article crawler.Article) error {
	if article.URL == "" {
		return errors.New("article has no url")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.URL] = article
	return nil
}

// Articles returns every stored article ordered by URL.
func (s *EntityStore) Articles() []crawler.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
