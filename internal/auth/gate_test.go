package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Unix(1700000000, 0).UTC()

func newGate() *Gate {
	return NewGate("master-secret", 10*time.Second, fixedClock{t: now})
}

func signedPost(t *testing.T, key string, body string) (*http.Request, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pub/webhook/contractor", strings.NewReader(body))
	req.Header.Set(HeaderSignature, Sign(key, []byte(body)))
	return req, []byte(body)
}

func TestVerifyPostWithMasterKey(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"_request_time": %d, "id": 1}`, now.Unix()-3)
	req, raw := signedPost(t, "master-secret", body)
	require.NoError(t, newGate().Verify(req, raw))
}

func TestVerifyPostWithTenantKey(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"_request_time": "%d"}`, now.Unix())
	req, raw := signedPost(t, "tenant-private", body)
	require.NoError(t, newGate().Verify(req, raw, "tenant-private"))
	require.ErrorIs(t, newGate().Verify(req, raw, "other"), apperrors.ErrAuthenticationFailed)
}

func TestVerifyWebhookSignatureHeader(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"_request_time": %d}`, now.Unix())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(HeaderWebhookSignature, strings.ToUpper(Sign("master-secret", []byte(body))))
	require.NoError(t, newGate().Verify(req, []byte(body)))
}

func TestVerifyFreshnessWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		age  int64
		ok   bool
	}{
		{"now", 0, true},
		{"nine seconds", 9, true},
		{"ten seconds", 10, false},
		{"future", -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			body := fmt.Sprintf(`{"_request_time": %d}`, now.Unix()-tc.age)
			req, raw := signedPost(t, "master-secret", body)
			err := newGate().Verify(req, raw)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperrors.ErrStaleRequest)
		})
	}
}

func TestVerifyChecksTimeBeforeSignature(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"_request_time": %d}`, now.Unix()-60)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(HeaderSignature, "deadbeef")
	err := newGate().Verify(req, []byte(body))
	require.ErrorIs(t, err, apperrors.ErrStaleRequest)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, appErr.HTTPStatus())
	require.Equal(t, "invalid request time", appErr.Status)
}

func TestVerifyMissingOrMalformedTime(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{}`, `{"_request_time": "soon"}`, `not json`, `{"_request_time": 1.5}`} {
		req, raw := signedPost(t, "master-secret", body)
		require.ErrorIs(t, newGate().Verify(req, raw), apperrors.ErrStaleRequest, body)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"_request_time": %d}`, now.Unix())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := newGate().Verify(req, []byte(body))
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)

	req.Header.Set(HeaderSignature, Sign("master-secret", []byte(body+" ")))
	err = newGate().Verify(req, []byte(body))
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	appErr, _ := apperrors.As(err)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus())
}

func TestVerifyGetSignsRequestTimeHeader(t *testing.T) {
	t.Parallel()

	ts := fmt.Sprint(now.Unix() - 1)
	req := httptest.NewRequest(http.MethodGet, "/companies", nil)
	req.Header.Set(HeaderRequestTime, ts)
	req.Header.Set(HeaderSignature, Sign("master-secret", []byte(ts)))
	require.NoError(t, newGate().Verify(req, nil))

	req.Header.Del(HeaderRequestTime)
	require.ErrorIs(t, newGate().Verify(req, nil), apperrors.ErrStaleRequest)
}
