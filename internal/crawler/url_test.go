package crawler

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryEmpty(t *testing.T) {
	t.Parallel()

	for _, params := range []map[string]string{nil, {}} {
		got, err := BuildQuery(params)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestBuildQueryEncodesEveryPairOnce(t *testing.T) {
	t.Parallel()

	params := map[string]string{
		"q":        "hà nội & co",
		"page":     "2",
		"a b":      "x=y",
		"redirect": "https://example.com/?k=v#frag",
	}
	got, err := BuildQuery(params)
	require.NoError(t, err)

	assert.False(t, strings.HasSuffix(got, "&"), "trailing separator in %q", got)
	pairs := strings.Split(got, "&")
	require.Len(t, pairs, len(params))

	seen := map[string]string{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		require.True(t, ok, "pair %q has no '='", pair)
		assert.NotContains(t, k+v, " ")
		assert.NotContains(t, v, "&")
		assert.NotContains(t, v, "#")
		dk, err := url.QueryUnescape(k)
		require.NoError(t, err)
		dv, err := url.QueryUnescape(v)
		require.NoError(t, err)
		_, dup := seen[dk]
		assert.False(t, dup, "duplicate key %q", dk)
		seen[dk] = dv
	}
	assert.Equal(t, params, seen)
}

func TestBuildQueryDeterministicOrder(t *testing.T) {
	t.Parallel()

	params := map[string]string{"z": "1", "a": "2", "m": "3"}
	first, err := BuildQuery(params)
	require.NoError(t, err)
	assert.Equal(t, "a=2&m=3&z=1", first)
	for i := 0; i < 20; i++ {
		again, err := BuildQuery(params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildQueryRejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	_, err := BuildQuery(map[string]string{"q": string([]byte{0xff, 0xfe})})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestTargetResolve(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	tests := []struct {
		name    string
		target  Target
		want    string
		wantErr error
	}{
		{
			name:   "no params",
			target: Target{Page: catalog.MustPage(PageCapitalList)},
			want:   "http://www.sport-histoire.fr/en/Geography/ISO_codes_countries.php",
		},
		{
			name:   "query appended",
			target: Target{Page: catalog.MustPage(PageNews), Params: map[string]string{"page": "3"}},
			want:   "https://tintuc.vn/tin-quoc-te?page=3",
		},
		{
			name: "path args escaped",
			target: Target{
				Page:     catalog.MustPage(PageWeather),
				PathArgs: []string{"vietnam", "ha noi"},
			},
			want: "https://www.timeanddate.com/weather/vietnam/ha%20noi/ext",
		},
		{
			name: "bad param drops query",
			target: Target{
				Page:   catalog.MustPage(PageNews),
				Params: map[string]string{"q": string([]byte{0xc3})},
			},
			want:    "https://tintuc.vn/tin-quoc-te",
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.target.Resolve()
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTargetResolveArityMismatch(t *testing.T) {
	t.Parallel()

	page := DefaultCatalog().MustPage(PageWeather)
	_, err := Target{Page: page, PathArgs: []string{"only-one"}}.Resolve()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidParameter)
}

func TestTargetResolveAppendsToExistingQuery(t *testing.T) {
	t.Parallel()

	page := Page{Key: PageNews, Template: "https://example.com/list?lang=en"}
	got, err := Target{Page: page, Params: map[string]string{"page": "1"}}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/list?lang=en&page=1", got)
}

func TestSiteOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "www.timeanddate.com", SiteOf("https://WWW.TimeAndDate.com/weather/x/y/ext"))
	assert.Equal(t, "unknown", SiteOf("::not a url"))
}
