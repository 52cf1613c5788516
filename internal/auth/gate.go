// Package auth verifies signed server-to-server requests.
//
// A request is signed with HMAC-SHA256 over its raw body, or over the
// Request-Time header for GET and HEAD. The timestamp must be no more than
// the configured window old and never in the future.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
)

// Header names carrying the signature and, for bodiless requests, the
// signed timestamp.
const (
	HeaderSignature        = "Signature"
	HeaderWebhookSignature = "Webhook-Signature"
	HeaderRequestTime      = "Request-Time"

	requestTimeField = "_request_time"
)

// Clock supplies the verification time.
type Clock interface {
	Now() time.Time
}

// Gate checks freshness and signatures.
type Gate struct {
	masterKey string
	window    time.Duration
	clock     Clock
}

// NewGate creates a Gate. Requests older than window are rejected.
func NewGate(masterKey string, window time.Duration, clock Clock) *Gate {
	return &Gate{masterKey: masterKey, window: window, clock: clock}
}

// Verify authenticates r with body already read. tenantKeys are tried after
// the master key; empty keys are skipped. Freshness is checked first.
func (g *Gate) Verify(r *http.Request, body []byte, tenantKeys ...string) error {
	bodiless := r.Method == http.MethodGet || r.Method == http.MethodHead

	var (
		ts     int64
		ok     bool
		signed []byte
	)
	if bodiless {
		header := strings.TrimSpace(r.Header.Get(HeaderRequestTime))
		ts, ok = parseTimestamp(header)
		signed = []byte(header)
	} else {
		ts, ok = bodyTimestamp(body)
		signed = body
	}
	if !ok || !g.fresh(ts) {
		return apperrors.ErrStaleRequest
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		sig = r.Header.Get(HeaderWebhookSignature)
	}
	sig = strings.ToLower(strings.TrimSpace(sig))
	if sig == "" {
		return apperrors.ErrAuthenticationFailed
	}

	keys := append([]string{g.masterKey}, tenantKeys...)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(Sign(key, signed))) {
			return nil
		}
	}
	return apperrors.ErrAuthenticationFailed
}

func (g *Gate) fresh(ts int64) bool {
	age := g.clock.Now().Unix() - ts
	return age >= 0 && age < int64(g.window/time.Second)
}

// Sign returns the lowercase hex HMAC-SHA256 of data under key.
func Sign(key string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func bodyTimestamp(body []byte) (int64, bool) {
	if !gjson.ValidBytes(body) {
		return 0, false
	}
	v := gjson.GetBytes(body, requestTimeField)
	switch v.Type {
	case gjson.Number:
		return parseTimestamp(v.Raw)
	case gjson.String:
		return parseTimestamp(v.Str)
	default:
		return 0, false
	}
}

func parseTimestamp(s string) (int64, bool) {
	ts, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
