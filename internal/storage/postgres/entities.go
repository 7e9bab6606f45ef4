package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// EntityStore implements the crawler capital, forecast and article stores.
type EntityStore struct {
	pool Pool
}

// NewEntityStore wraps pool.
func NewEntityStore(pool Pool) (*EntityStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// Close releases the pool.
func (s *EntityStore) Close() {
	s.pool.Close()
}

// Ping checks the connection; the ops server uses it for readiness.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertCapital inserts or refreshes a capital keyed by ISO-2 code.
func (s *EntityStore) UpsertCapital(ctx context.Context, c crawler.Capital) error {
	code := strings.ToUpper(strings.TrimSpace(c.ISO2Code))
	if code == "" {
		return errors.New("capital has no ISO-2 code")
	}
	const query = `
		INSERT INTO capitals (iso2_code, iso3_code, name, country, latitude, longitude, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, now())
		ON CONFLICT (iso2_code) DO UPDATE
		SET iso3_code = EXCLUDED.iso3_code,
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query, code, c.ISO3Code, c.Name, c.Country, c.Latitude, c.Longitude); err != nil {
		return fmt.Errorf("upsert capital %s: %w", code, err)
	}
	return nil
}

// UpsertForecast inserts or rewrites the forecast for (code, day).
func (s *EntityStore) UpsertForecast(ctx context.Context, f crawler.Forecast) error {
	code := strings.ToUpper(f.ISO2Code)
	if code == "" {
		return errors.New("forecast has no ISO-2 code")
	}
	const query = `
		INSERT INTO forecasts (iso2_code, forecast_date, capital, summary, high_c, low_c, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (iso2_code, forecast_date) DO UPDATE
		SET capital = EXCLUDED.capital,
			summary = EXCLUDED.summary,
			high_c = EXCLUDED.high_c,
			low_c = EXCLUDED.low_c,
			fetched_at = EXCLUDED.fetched_at;
	`
	_, err := s.pool.Exec(ctx, query, code, day(f.Date), f.Capital, f.Summary, f.HighC, f.LowC, f.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert forecast %s %s: %w", code, f.Date.Format(time.DateOnly), err)
	}
	return nil
}

const forecastColumns = `iso2_code, capital, forecast_date, summary, high_c, low_c, fetched_at`

// FindLatest returns the n most recent forecasts for code, oldest first.
func (s *EntityStore) FindLatest(ctx context.Context, code string, n int) ([]crawler.Forecast, error) {
	if n <= 0 {
		return []crawler.Forecast{}, nil
	}
	query := `
		SELECT ` + forecastColumns + ` FROM (
			SELECT ` + forecastColumns + `
			FROM forecasts
			WHERE iso2_code = $1
			ORDER BY forecast_date DESC
			LIMIT $2
		) recent
		ORDER BY forecast_date ASC;
	`
	rows, err := s.pool.Query(ctx, query, strings.ToUpper(code), n)
	if err != nil {
		return nil, fmt.Errorf("find latest forecasts: %w", err)
	}
	defer rows.Close()

	var out []crawler.Forecast
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forecasts: %w", err)
	}
	return out, nil
}

// FindByCodeAndDate returns crawler.ErrNotFound when no row matches.
func (s *EntityStore) FindByCodeAndDate(ctx context.Context, code string, date time.Time) (crawler.Forecast, error) {
	query := `SELECT ` + forecastColumns + ` FROM forecasts WHERE iso2_code = $1 AND forecast_date = $2;`
	f, err := scanForecast(s.pool.QueryRow(ctx, query, strings.ToUpper(code), day(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Forecast{}, crawler.ErrNotFound
	}
	return f, err
}

// UpsertArticle inserts or refreshes an article keyed by URL.
func (s *EntityStore) UpsertArticle(ctx context.Context, a crawler.Article) error {
	if a.URL == "" {
		return errors.New("article has no url")
	}
	const query = `
		INSERT INTO articles (url, title, summary, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE
		SET title = EXCLUDED.title, summary = EXCLUDED.summary, fetched_at = EXCLUDED.fetched_at;
	`
	if _, err := s.pool.Exec(ctx, query, a.URL, a.Title, a.Summary, a.FetchedAt); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

func scanForecast(row pgx.Row) (crawler.Forecast, error) {
	var f crawler.Forecast
	if err := row.Scan(&f.ISO2Code, &f.Capital, &f.Date, &f.Summary, &f.HighC, &f.LowC, &f.FetchedAt); err != nil {
		return crawler.Forecast{}, fmt.Errorf("scan forecast: %w", err)
	}
	f.ISO2Code = strings.TrimSpace(f.ISO2Code)
	f.Date = day(f.Date)
	return f, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
