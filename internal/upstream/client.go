// Package upstream talks to the contractor management platform's REST API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
)

const maxResponseBody = 8 << 20

// Throttle paces requests per tenant.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Client is an authenticated client for the upstream API. Every request is
// made on behalf of one company, identified by its private key.
type Client struct {
	http      *http.Client
	apiRoot   string
	userAgent string
	throttle  Throttle
}

// NewClient creates a Client. throttle may be nil.
func NewClient(httpClient *http.Client, apiRoot, userAgent string, throttle Throttle) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:      httpClient,
		apiRoot:   strings.TrimSuffix(apiRoot, "/"),
		userAgent: userAgent,
		throttle:  throttle,
	}
}

// Response is a fully read upstream reply.
type Response struct {
	Status int
	Body   []byte
}

// Do sends one request and reads the body. Transport failures are errors;
// any HTTP status is returned for the caller to judge.
func (c *Client) Do(ctx context.Context, privateKey, method, rawURL string, payload any) (Response, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, privateKey); err != nil {
			return Response{}, err //nolint:wrapcheck // limiter wraps
		}
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s %s body: %w", method, rawURL, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Response{}, fmt.Errorf("build %s %s: %w", method, rawURL, err)
	}
	req.Header.Set("Authorization", "token "+privateKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveUpstream("platform", 0)
		return Response{}, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveUpstream("platform", resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("read %s %s: %w", method, rawURL, err)
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}

// URL joins path onto the API root.
func (c *Client) URL(path string) string {
	return c.apiRoot + "/" + strings.TrimPrefix(path, "/")
}

// WalkContractors pages through the public contractor listing, calling fn
// with each raw item in order. It stops at the first page that is not a 200
// with a JSON body.
func (c *Client) WalkContractors(ctx context.Context, privateKey string, fn func(item []byte) error) error {
	next := c.URL("public_contractors/?page=1")
	for next != "" {
		resp, err := c.Do(ctx, privateKey, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if resp.Status != http.StatusOK || !gjson.ValidBytes(resp.Body) {
			return apperrors.BadResponse(http.MethodGet, next, resp.Status, resp.Body)
		}
		doc := gjson.ParseBytes(resp.Body)
		results := doc.Get("results")
		if !results.IsArray() {
			return apperrors.BadResponse(http.MethodGet, next, resp.Status, resp.Body)
		}
		var itemErr error
		results.ForEach(func(_, item gjson.Result) bool {
			itemErr = fn([]byte(item.Raw))
			return itemErr == nil
		})
		if itemErr != nil {
			return itemErr
		}
		next = doc.Get("next").String()
	}
	return nil
}

// EnquiryOptions fetches the enquiry form description.
func (c *Client) EnquiryOptions(ctx context.Context, privateKey string) ([]byte, error) {
	u := c.URL("enquiry/")
	resp, err := c.Do(ctx, privateKey, http.MethodOptions, u, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK || !gjson.ValidBytes(resp.Body) {
		return nil, apperrors.BadResponse(http.MethodOptions, u, resp.Status, resp.Body)
	}
	return resp.Body, nil
}

// SubmitEnquiry posts an enquiry and returns the raw response for the
// caller to classify.
func (c *Client) SubmitEnquiry(ctx context.Context, privateKey string, data map[string]any) (Response, error) {
	return c.Do(ctx, privateKey, http.MethodPost, c.URL("enquiry/"), data)
}
