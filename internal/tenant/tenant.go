// Package tenant resolves the company addressed by a request and enforces
// its browser origin policy.
package tenant

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// Store loads companies by public key.
type Store interface {
	GetByPublicKey(ctx context.Context, q database.Querier, publicKey string) (store.Company, error)
}

// Resolver looks up tenants, memoising the result for the life of a request.
type Resolver struct {
	store      Store
	rootDomain string
}

// NewResolver creates a Resolver. rootDomain is the platform domain that is
// always an acceptable origin; empty disables that allowance.
func NewResolver(s Store, rootDomain string) *Resolver {
	return &Resolver{store: s, rootDomain: strings.ToLower(strings.TrimSpace(rootDomain))}
}

type requestCache struct {
	mu      sync.Mutex
	entries map[string]store.Company
}

type cacheKey struct{}

// WithRequestCache installs an empty per-request company cache on ctx.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &requestCache{entries: map[string]store.Company{}})
}

// Resolve returns the company for publicKey. Misses are TenantNotFound.
func (r *Resolver) Resolve(ctx context.Context, q database.Querier, publicKey string) (store.Company, error) {
	cache, _ := ctx.Value(cacheKey{}).(*requestCache)
	if cache != nil {
		cache.mu.Lock()
		c, ok := cache.entries[publicKey]
		cache.mu.Unlock()
		if ok {
			return c, nil
		}
	}
	c, err := r.store.GetByPublicKey(ctx, q, publicKey)
	if err != nil {
		return store.Company{}, err //nolint:wrapcheck // store returns classified errors
	}
	if cache != nil {
		cache.mu.Lock()
		cache.entries[publicKey] = c
		cache.mu.Unlock()
	}
	return c, nil
}

// CheckOrigin enforces the company's domain list against the request's
// Origin, falling back to Referer.
func (r *Resolver) CheckOrigin(c store.Company, req *http.Request) error {
	if c.Domains == nil {
		return nil
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		origin = req.Header.Get("Referer")
	}
	host := HostOf(origin)
	if host == "" || !r.DomainAllowed(c.Domains, host) {
		return apperrors.ErrForbiddenOrigin
	}
	return nil
}

// DomainAllowed reports whether host satisfies domains. Entries match
// exactly, or as "*.suffix" against any subdomain of suffix. The root
// domain and its subdomains always pass.
func (r *Resolver) DomainAllowed(domains []string, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	if r.rootDomain != "" && (host == r.rootDomain || strings.HasSuffix(host, "."+r.rootDomain)) {
		return true
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(d, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == d {
			return true
		}
	}
	return false
}

// HostOf extracts the lowercased host, without port, from an origin or
// referrer URL. Bare hostnames are accepted.
func HostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
