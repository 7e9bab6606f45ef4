// Package mongo persists capitals, forecasts and articles as MongoDB
// documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// Collection names.
const (
	CapitalsCollection  = "capitals"
	ForecastsCollection = "forecasts"
	ArticlesCollection  = "articles"
)

// Config locates the database.
type Config struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Connect dials the server and pings the primary.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo.uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetWriteConcern(writeconcern.W1()).
		SetRetryWrites(true).
		SetTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Store implements the crawler capital, forecast and article stores.
type Store struct {
	db        *mongo.Database
	capitals  *mongo.Collection
	forecasts *mongo.Collection
	articles  *mongo.Collection
}

// New uses the collections of db.
func New(db *mongo.Database) *Store {
	return &Store{
		db:        db,
		capitals:  db.Collection(CapitalsCollection),
		forecasts: db.Collection(ForecastsCollection),
		articles:  db.Collection(ArticlesCollection),
	}
}

// EnsureIndexes creates the unique keys the upserts rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.forecasts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "iso2_code", Value: 1}, {Key: "forecast_date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create forecast index: %w", err)
	}
	_, err = s.articles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create article index: %w", err)
	}
	return nil
}

// Ping checks the connection; the ops server uses it for readiness.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// UpsertCapital stores the capital with its ISO-2 code as _id.
func (s *Store) UpsertCapital(ctx context.Context, c crawler.Capital) error {
	code := strings.ToUpper(strings.TrimSpace(c.ISO2Code))
	if code == "" {
		return errors.New("capital has no ISO-2 code")
	}
	c.ISO2Code = code
	_, err := s.capitals.UpdateOne(ctx,
		bson.M{"_id": code},
		bson.M{"$set": c},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert capital %s: %w", code, err)
	}
	return nil
}

// UpsertForecast stores the forecast keyed by (code, day).
func (s *Store) UpsertForecast(ctx context.Context, f crawler.Forecast) error {
	f.ISO2Code = strings.ToUpper(f.ISO2Code)
	if f.ISO2Code == "" {
		return errors.New("forecast has no ISO-2 code")
	}
	f.Date = day(f.Date)
	_, err := s.forecasts.UpdateOne(ctx,
		bson.M{"iso2_code": f.ISO2Code, "forecast_date": f.Date},
		bson.M{"$set": f},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert forecast %s %s: %w", f.ISO2Code, f.Date.Format(time.DateOnly), err)
	}
	return nil
}

// FindLatest returns the n most recent forecasts for code, oldest first.
func (s *Store) FindLatest(ctx context.Context, code string, n int) ([]crawler.Forecast, error) {
	// A zero limit means "no limit" to the server.
	if n <= 0 {
		return []crawler.Forecast{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "forecast_date", Value: -1}}).
		SetLimit(int64(n))
	cur, err := s.forecasts.Find(ctx, bson.M{"iso2_code": strings.ToUpper(code)}, opts)
	if err != nil {
		return nil, fmt.Errorf("find latest forecasts: %w", err)
	}
	var out []crawler.Forecast
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode forecasts: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// FindByCodeAndDate returns crawler.ErrNotFound when no document matches.
func (s *Store) FindByCodeAndDate(ctx context.Context, code string, date time.Time) (crawler.Forecast, error) {
	var f crawler.Forecast
	err := s.forecasts.FindOne(ctx, bson.M{"iso2_code": strings.ToUpper(code), "forecast_date": day(date)}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return crawler.Forecast{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Forecast{}, fmt.Errorf("find forecast: %w", err)
	}
	return f, nil
}

// UpsertArticle stores the article keyed by URL.
func (s *Store) UpsertArticle(ctx context.Context, a crawler.Article) error {
	if a.URL == "" {
		return errors.New("article has no url")
	}
	_, err := s.articles.UpdateOne(ctx,
		bson.M{"url": a.URL},
		bson.M{"$set": a},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
