package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
)

const maxProviderBody = 1 << 20

// Google queries the Google Geocoding API.
type Google struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewGoogle creates a Google provider.
func NewGoogle(client *http.Client, endpoint, apiKey string) *Google {
	if client == nil {
		client = http.DefaultClient
	}
	return &Google{client: client, endpoint: endpoint, apiKey: apiKey}
}

// Geocode implements Provider.
func (g *Google) Geocode(ctx context.Context, location, region string) (*Result, error) {
	params := url.Values{}
	params.Set("address", location)
	params.Set("key", g.apiKey)
	if region != "" {
		params.Set("region", region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream("geocode", 0)
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveUpstream("geocode", resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, fmt.Errorf("read geocode response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, nil
	case resp.StatusCode != http.StatusOK || !gjson.ValidBytes(body):
		return nil, apperrors.BadResponse(http.MethodGet, g.endpoint, resp.StatusCode, body)
	}

	doc := gjson.ParseBytes(body)
	switch doc.Get("status").String() {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, apperrors.BadResponse(http.MethodGet, g.endpoint, resp.StatusCode, body)
	}
	first := doc.Get("results.0")
	lat, lng := first.Get("geometry.location.lat"), first.Get("geometry.location.lng")
	if !first.Exists() || !lat.Exists() || !lng.Exists() {
		return nil, nil
	}
	return &Result{
		Pretty: first.Get("formatted_address").String(),
		Lat:    lat.Float(),
		Lng:    lng.Float(),
	}, nil
}
