// Package geocode resolves free-text locations to coordinates through a
// long-lived cache, charging cache misses against a per-IP budget.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/cache"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
)

// Result is a resolved location.
type Result struct {
	Pretty string  `json:"pretty"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// Provider performs the upstream lookup. A nil Result with a nil error means
// the provider found nothing; that outcome is cached.
type Provider interface {
	Geocode(ctx context.Context, location, region string) (*Result, error)
}

// Hasher produces hex digests for cache keys.
type Hasher interface {
	Hash(data []byte) string
}

// Config tunes the cache and rate policy.
type Config struct {
	RateLimit int64
	Window    time.Duration
	CacheTTL  time.Duration
}

// Service is the cached, rate limited geocoder.
type Service struct {
	cache    cache.Cache
	provider Provider
	hasher   Hasher
	cfg      Config
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(c cache.Cache, p Provider, h Hasher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cache: c, provider: p, hasher: h, cfg: cfg, logger: logger.Named("geocode")}
}

// NormalizeRegion maps a CDN country code onto the provider's region
// vocabulary. Unknown or placeholder codes yield "".
func NormalizeRegion(country string) string {
	region := strings.ToLower(strings.TrimSpace(country))
	switch region {
	case "", "xx", "t1":
		return ""
	case "gb":
		return "uk"
	default:
		return region
	}
}

// CacheKey is the cache key for a location and normalized region.
func (s *Service) CacheKey(location, region string) string {
	return "geocode-" + s.hasher.Hash([]byte(strings.ToLower(strings.TrimSpace(location))+region))
}

// RateKey is the per-IP attempt counter key.
func RateKey(ip string) string {
	return "geocode-rate-" + ip
}

// Lookup resolves location. Cache hits never touch the rate budget or the
// provider.
func (s *Service) Lookup(ctx context.Context, location, country, ip string) (*Result, error) {
	region := NormalizeRegion(country)
	key := s.CacheKey(location, region)

	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read geocode cache: %w", err)
	}
	if ok {
		metrics.ObserveGeocode("hit")
		var res *Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode cached geocode: %w", err)
		}
		return res, nil
	}

	attempts, err := s.cache.Incr(ctx, RateKey(ip), s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("count geocode attempts: %w", err)
	}
	if attempts > s.cfg.RateLimit {
		metrics.ObserveGeocode("rate_limited")
		s.logger.Info("geocode rate limited", zap.String("ip", ip), zap.Int64("attempts", attempts))
		return nil, apperrors.ErrRateLimited.WithDetails("too many geocoding requests, please try again later")
	}

	res, err := s.provider.Geocode(ctx, location, region)
	if err != nil {
		metrics.ObserveGeocode("error")
		return nil, err //nolint:wrapcheck // provider errors are already classified
	}
	encoded, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode geocode result: %w", err)
	}
	if err := s.cache.Set(ctx, key, encoded, s.cfg.CacheTTL); err != nil {
		return nil, fmt.Errorf("write geocode cache: %w", err)
	}
	outcome := "resolved"
	if res == nil {
		outcome = "no_result"
	}
	metrics.ObserveGeocode(outcome)
	return res, nil
}
