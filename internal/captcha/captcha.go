// Package captcha verifies reCAPTCHA tokens.
package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
)

// Verdict is the verifier's answer.
type Verdict struct {
	Success  bool
	Hostname string
}

// Verifier checks tokens against the reCAPTCHA siteverify endpoint.
type Verifier struct {
	client   *http.Client
	endpoint string
	secret   string
}

// NewVerifier creates a Verifier.
func NewVerifier(client *http.Client, endpoint, secret string) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{client: client, endpoint: endpoint, secret: secret}
}

// Verify checks token. ip is passed through when known.
func (v *Verifier) Verify(ctx context.Context, token, ip string) (Verdict, error) {
	if strings.TrimSpace(token) == "" {
		return Verdict{}, nil
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if ip != "" {
		form.Set("remoteip", ip)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := v.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream("captcha", 0)
		return Verdict{}, fmt.Errorf("captcha request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveUpstream("captcha", resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Verdict{}, fmt.Errorf("read captcha response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !gjson.ValidBytes(body) {
		return Verdict{}, apperrors.BadResponse(http.MethodPost, v.endpoint, resp.StatusCode, body)
	}
	doc := gjson.ParseBytes(body)
	return Verdict{
		Success:  doc.Get("success").Bool(),
		Hostname: strings.ToLower(doc.Get("hostname").String()),
	}, nil
}
