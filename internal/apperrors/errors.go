// Package apperrors defines the error taxonomy surfaced to API clients and the
// HTTP status each kind maps to.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the client-visible envelope.
type Kind int

// Error kinds, each with a fixed HTTP status.
const (
	KindInternal Kind = iota
	KindAuthenticationFailed
	KindStaleRequest
	KindForbiddenOrigin
	KindTenantNotFound
	KindNotFound
	KindOwnershipConflict
	KindValidationFailed
	KindBadRequest
	KindRateLimited
	KindUpstreamBadResponse
	KindResourceConflict
)

var statusByKind = map[Kind]int{
	KindInternal:             http.StatusInternalServerError,
	KindAuthenticationFailed: http.StatusUnauthorized,
	KindStaleRequest:         http.StatusForbidden,
	KindForbiddenOrigin:      http.StatusForbidden,
	KindTenantNotFound:       http.StatusNotFound,
	KindNotFound:             http.StatusNotFound,
	KindOwnershipConflict:    http.StatusForbidden,
	KindValidationFailed:     http.StatusBadRequest,
	KindBadRequest:           http.StatusBadRequest,
	KindRateLimited:          http.StatusTooManyRequests,
	KindUpstreamBadResponse:  http.StatusInternalServerError,
	KindResourceConflict:     http.StatusConflict,
}

// Error is a classified error carrying the envelope's status token and details.
type Error struct {
	Kind    Kind
	Status  string
	Details any
	err     error
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed, Status: "invalid signature"}
	ErrStaleRequest         = &Error{Kind: KindStaleRequest, Status: "invalid request time"}
	ErrForbiddenOrigin      = &Error{Kind: KindForbiddenOrigin, Status: "wrong Origin domain"}
	ErrTenantNotFound       = &Error{Kind: KindTenantNotFound, Status: "company not found"}
	ErrNotFound             = &Error{Kind: KindNotFound, Status: "not found"}
	ErrOwnershipConflict    = &Error{Kind: KindOwnershipConflict, Status: "permission denied"}
	ErrValidationFailed     = &Error{Kind: KindValidationFailed, Status: "invalid request data"}
	ErrBadRequest           = &Error{Kind: KindBadRequest, Status: "bad request"}
	ErrRateLimited          = &Error{Kind: KindRateLimited, Status: "too many requests"}
	ErrUpstreamBadResponse  = &Error{Kind: KindUpstreamBadResponse, Status: "bad upstream response"}
	ErrResourceConflict     = &Error{Kind: KindResourceConflict, Status: "conflict"}
)

// New builds an Error of the given kind.
func New(kind Kind, status string, details any) *Error {
	return &Error{Kind: kind, Status: status, Details: details}
}

// Wrap classifies err without losing it for errors.Is/As.
func Wrap(err error, kind Kind, status string) *Error {
	return &Error{Kind: kind, Status: status, err: err}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	msg := e.Status
	switch d := e.Details.(type) {
	case nil:
	case string:
		msg = fmt.Sprintf("%s: %s", msg, d)
	default:
		msg = fmt.Sprintf("%s: %v", msg, d)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the status code for the error's kind.
func (e *Error) HTTPStatus() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Validation builds a ValidationFailed error from a field-path keyed message map.
func Validation(fields map[string]string) *Error {
	return ErrValidationFailed.WithDetails(fields)
}

const maxUpstreamBody = 400

// UpstreamResponse describes an unexpected upstream reply.
type UpstreamResponse struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// BadResponse builds an UpstreamBadResponse error carrying the status and a
// truncated body.
func BadResponse(method, url string, status int, body []byte) *Error {
	if len(body) > maxUpstreamBody {
		body = body[:maxUpstreamBody]
	}
	return ErrUpstreamBadResponse.WithDetails(UpstreamResponse{
		Method: method,
		URL:    url,
		Status: status,
		Body:   string(body),
	})
}

// UpstreamStatus returns the upstream HTTP status recorded on err, if any.
func UpstreamStatus(err error) (int, bool) {
	appErr, ok := As(err)
	if !ok {
		return 0, false
	}
	resp, ok := appErr.Details.(UpstreamResponse)
	if !ok {
		return 0, false
	}
	return resp.Status, true
}
