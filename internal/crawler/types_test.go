package crawler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminationMatchesIdentifierOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		capital Capital
		want    bool
	}{
		{SentinelCapital(), true},
		{Capital{Name: NoMoreCapital, Country: "anything", ISO2Code: "XX"}, true},
		{Capital{Name: "no_more_capital"}, false},
		{Capital{Name: "Hanoi", ISO2Code: "VN"}, false},
		{Capital{}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.capital.IsTermination(), "%+v", tc.capital)
		assert.Equal(t, tc.capital.Name == NoMoreCapital, tc.capital.IsTermination())
	}
}

func TestSentinelSurvivesSerialization(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(SentinelCapital())
	require.NoError(t, err)
	var decoded Capital
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.IsTermination())
}

func TestSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "buenos-aires", Slug("Buenos Aires"))
	assert.Equal(t, "port-au-prince", Slug("Port-au-Prince"))
	assert.Equal(t, "usa", Slug("  USA "))
	assert.Equal(t, "", Slug(""))
}

func TestForecastSameReading(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	a := Forecast{ISO2Code: "VN", Date: day, Summary: "Rain", HighC: 30, LowC: 24, FetchedAt: day}
	b := a
	b.FetchedAt = day.Add(time.Hour)
	assert.True(t, a.SameReading(b))
	b.HighC = 31
	assert.False(t, a.SameReading(b))
}
