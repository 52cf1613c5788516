package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/cache"
	"github.com/JakeFAU/contractor-socket/internal/hash/sha256"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	result *Result
	err    error
}

func (f *fakeProvider) Geocode(context.Context, string, string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func newService(p Provider) (*Service, *cache.Memory) {
	c := cache.NewMemory(nil)
	return NewService(c, p, sha256.New(), Config{RateLimit: 10, Window: time.Hour, CacheTTL: 90 * 24 * time.Hour}, nil), c
}

func TestNormalizeRegion(t *testing.T) {
	t.Parallel()

	require.Equal(t, "uk", NormalizeRegion("GB"))
	require.Equal(t, "fr", NormalizeRegion("fr"))
	require.Empty(t, NormalizeRegion("XX"))
	require.Empty(t, NormalizeRegion(""))
}

func TestCacheKeyNormalizesLocation(t *testing.T) {
	t.Parallel()

	s, _ := newService(&fakeProvider{})
	require.Equal(t, s.CacheKey("London", "uk"), s.CacheKey("  london ", "uk"))
	require.NotEqual(t, s.CacheKey("london", "uk"), s.CacheKey("london", ""))
}

func TestLookupSharesCacheAcrossCallers(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{result: &Result{Pretty: "London, UK", Lat: 51.5, Lng: -0.12}}
	s, _ := newService(p)
	ctx := context.Background()

	first, err := s.Lookup(ctx, "London", "gb", "1.1.1.1")
	require.NoError(t, err)
	second, err := s.Lookup(ctx, "london", "GB", "2.2.2.2")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, p.calls)
}

func TestLookupCachesNoResult(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s, _ := newService(p)
	ctx := context.Background()

	res, err := s.Lookup(ctx, "nowhere", "", "1.1.1.1")
	require.NoError(t, err)
	require.Nil(t, res)
	res, err = s.Lookup(ctx, "nowhere", "", "1.1.1.1")
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, 1, p.calls)
}

func TestLookupRateLimitsMisses(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{result: &Result{Pretty: "x"}}
	s, _ := newService(p)
	ctx := context.Background()

	for i := range 10 {
		_, err := s.Lookup(ctx, fmt.Sprintf("place %d", i), "", "9.9.9.9")
		require.NoError(t, err)
	}
	_, err := s.Lookup(ctx, "place 10", "", "9.9.9.9")
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
	require.Equal(t, 10, p.calls, "the eleventh miss never reaches the provider")

	_, err = s.Lookup(ctx, "place 0", "", "9.9.9.9")
	require.NoError(t, err, "hits are not charged")

	_, err = s.Lookup(ctx, "place 11", "", "8.8.8.8")
	require.NoError(t, err, "budgets are per IP")
}

func TestLookupDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{err: apperrors.BadResponse("GET", "https://maps", 500, []byte("boom"))}
	s, _ := newService(p)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "London", "", "1.1.1.1")
	require.ErrorIs(t, err, apperrors.ErrUpstreamBadResponse)
	_, err = s.Lookup(ctx, "London", "", "1.1.1.1")
	require.Error(t, err)
	require.Equal(t, 2, p.calls)
}

func TestGoogleProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("address") {
		case "london":
			if r.URL.Query().Get("region") != "uk" || r.URL.Query().Get("key") != "k" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			_, _ = w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"London, UK",
				"geometry":{"location":{"lat":51.5,"lng":-0.12}}}]}`))
		case "empty":
			_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream broke"))
		}
	}))
	defer srv.Close()

	g := NewGoogle(srv.Client(), srv.URL, "k")
	ctx := context.Background()

	res, err := g.Geocode(ctx, "london", "uk")
	require.NoError(t, err)
	require.Equal(t, &Result{Pretty: "London, UK", Lat: 51.5, Lng: -0.12}, res)

	res, err = g.Geocode(ctx, "empty", "")
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = g.Geocode(ctx, "bad", "")
	require.NoError(t, err)
	require.Nil(t, res)

	_, err = g.Geocode(ctx, "other", "")
	require.ErrorIs(t, err, apperrors.ErrUpstreamBadResponse)
	status, ok := apperrors.UpstreamStatus(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, status)
	require.False(t, errors.Is(err, apperrors.ErrRateLimited))
}
