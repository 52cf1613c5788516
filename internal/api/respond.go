package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/logging"
)

// envelope is the body of every non-listing response.
type envelope struct {
	Status  string `json:"status"`
	Details any    `json:"details"`
}

// listing is the body of every list response.
type listing[T any] struct {
	Results []T   `json:"results"`
	Count   int64 `json:"count"`
}

const statusSuccess = "success"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeStatus(w http.ResponseWriter, code int, status string, details any) {
	writeJSON(w, code, envelope{Status: status, Details: details})
}

func writeSuccess(w http.ResponseWriter, code int, details any) {
	writeStatus(w, code, statusSuccess, details)
}

func writeList[T any](w http.ResponseWriter, results []T, count int64) {
	if results == nil {
		results = []T{}
	}
	writeJSON(w, http.StatusOK, listing[T]{Results: results, Count: count})
}

// writeError maps err onto the envelope. A cancelled request is reported as
// a bad request whatever the handler saw. Server-side kinds hide details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context(), zap.L())
	if r.Context().Err() != nil || errors.Is(err, context.Canceled) {
		writeStatus(w, http.StatusBadRequest, apperrors.ErrBadRequest.Status, nil)
		return
	}
	appErr, ok := apperrors.As(err)
	if !ok {
		log.Error("request failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	code := appErr.HTTPStatus()
	details := appErr.Details
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		details = nil
	} else {
		log.Info("request rejected", zap.String("status", appErr.Status), zap.Int("code", code))
	}
	writeStatus(w, code, appErr.Status, details)
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.ErrBadRequest.WithDetails("invalid JSON: " + err.Error())
	}
	return nil
}
