package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("set contractor: %w", ErrOwnershipConflict.WithDetails("contractor 7"))
	require.ErrorIs(t, err, ErrOwnershipConflict)
	require.NotErrorIs(t, err, ErrNotFound)

	appErr, ok := As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, appErr.HTTPStatus())
	require.Equal(t, "permission denied", appErr.Status)
}

func TestError_StatusMapping(t *testing.T) {
	t.Parallel()

	cases := map[*Error]int{
		ErrAuthenticationFailed: http.StatusUnauthorized,
		ErrStaleRequest:         http.StatusForbidden,
		ErrForbiddenOrigin:      http.StatusForbidden,
		ErrTenantNotFound:       http.StatusNotFound,
		ErrValidationFailed:     http.StatusBadRequest,
		ErrRateLimited:          http.StatusTooManyRequests,
		ErrUpstreamBadResponse:  http.StatusInternalServerError,
		ErrResourceConflict:     http.StatusConflict,
	}
	for e, code := range cases {
		require.Equal(t, code, e.HTTPStatus(), e.Status)
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, KindInternal, "internal error")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "refused")
}

func TestBadResponse_TruncatesBody(t *testing.T) {
	t.Parallel()

	body := []byte(strings.Repeat("x", 1000))
	err := BadResponse(http.MethodGet, "https://api.example.com/enquiry/", 502, body)
	require.ErrorIs(t, err, ErrUpstreamBadResponse)

	resp, ok := err.Details.(UpstreamResponse)
	require.True(t, ok)
	require.Len(t, resp.Body, maxUpstreamBody)

	status, ok := UpstreamStatus(fmt.Errorf("submit: %w", err))
	require.True(t, ok)
	require.Equal(t, 502, status)
}
