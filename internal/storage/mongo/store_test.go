package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

func forecastDoc(date time.Time, summary string, high float64) bson.D {
	return bson.D{
		{Key: "iso2_code", Value: "VN"},
		{Key: "capital", Value: "Hanoi"},
		{Key: "forecast_date", Value: date},
		{Key: "summary", Value: summary},
		{Key: "high_c", Value: high},
		{Key: "low_c", Value: 20.0},
	}
}

func TestStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	d1 := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	mt.Run("upsert capital", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))
		require.NoError(mt, s.UpsertCapital(ctx, crawler.Capital{Name: "Hanoi", Country: "Viet Nam", ISO2Code: "vn"}))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "update", started.CommandName)
		assert.Contains(mt, started.Command.String(), `"_id": "VN"`)

		require.Error(mt, s.UpsertCapital(ctx, crawler.Capital{Name: "Nowhere"}))
	})

	mt.Run("upsert forecast error", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 11000, Name: "DuplicateKey", Message: "duplicate key",
		}))
		err := s.UpsertForecast(ctx, crawler.Forecast{ISO2Code: "VN", Date: d1.Add(9 * time.Hour)})
		require.ErrorContains(mt, err, "upsert forecast VN 2026-10-18")
	})

	mt.Run("find by code and date", func(mt *mtest.T) {
		s := New(mt.DB)
		ns := mt.DB.Name() + "." + ForecastsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, forecastDoc(d1, "Sunny.", 31)))
		got, err := s.FindByCodeAndDate(ctx, "vn", d1.Add(3*time.Hour))
		require.NoError(mt, err)
		assert.Equal(mt, "Sunny.", got.Summary)
		assert.InDelta(mt, 31, got.HighC, 0)
		assert.True(mt, got.Date.Equal(d1))

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, err = s.FindByCodeAndDate(ctx, "VN", d2)
		require.ErrorIs(mt, err, crawler.ErrNotFound)
	})

	mt.Run("find latest returns oldest first", func(mt *mtest.T) {
		s := New(mt.DB)
		ns := mt.DB.Name() + "." + ForecastsCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			forecastDoc(d2, "newer", 30),
			forecastDoc(d1, "older", 29),
		))
		got, err := s.FindLatest(ctx, "VN", 7)
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, "older", got[0].Summary)
		assert.Equal(mt, "newer", got[1].Summary)
	})

	mt.Run("latest forecasts without a limit", func(mt *mtest.T) {
		s := New(mt.DB)
		got, err := s.FindLatest(ctx, "VN", 0)
		require.NoError(mt, err)
		assert.Empty(mt, got, "no documents even though the server treats 0 as unlimited")
	})

	mt.Run("upsert article", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, s.UpsertArticle(ctx, crawler.Article{URL: "https://tintuc.vn/a", Title: "A"}))
		require.Error(mt, s.UpsertArticle(ctx, crawler.Article{Title: "no url"}))
	})

	mt.Run("indexes and ping", func(mt *mtest.T) {
		s := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())
		require.NoError(mt, s.EnsureIndexes(ctx))
		require.NoError(mt, s.Ping(ctx))
	})
}

func TestConnectRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.ErrorContains(t, err, "mongo.uri is required")
}
