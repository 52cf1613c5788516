package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/logging"
	"github.com/JakeFAU/contractor-socket/internal/store"
	"github.com/JakeFAU/contractor-socket/internal/tenant"
)

const headerRequestID = "X-Request-ID"

type (
	companyKey struct{}
	bodyKey    struct{}
)

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set(headerRequestID, reqID)
		ctx := logging.WithLogger(r.Context(), s.logger.With(zap.String("request_id", reqID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), s.logger).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context(), s.logger).Error("panic recovered",
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeStatus(w, http.StatusInternalServerError, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// connectionScope attaches a lazy connection lease to the request and
// releases it when the handler returns. A request cancelled before anything
// was written gets a bad request response.
func (s *Server) connectionScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lease := database.NewLease(s.deps.DB)
		defer lease.Release()

		ctx := database.WithLease(r.Context(), lease)
		ctx = tenant.WithRequestCache(ctx)
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r.WithContext(ctx))
		if !ww.wrote && r.Context().Err() != nil {
			writeStatus(w, http.StatusBadRequest, apperrors.ErrBadRequest.Status, nil)
		}
	})
}

// conn returns the request's leased connection.
func conn(r *http.Request) (database.Querier, error) {
	lease, ok := database.LeaseFromContext(r.Context())
	if !ok {
		return nil, errors.New("no connection lease on request")
	}
	q, err := lease.Conn(r.Context())
	if err != nil {
		return nil, err //nolint:wrapcheck // lease errors name themselves
	}
	return q, nil
}

// readBody reads the capped body once and re-exposes it to later readers.
func (s *Server) readBody(r *http.Request, w http.ResponseWriter) ([]byte, error) {
	if body, ok := r.Context().Value(bodyKey{}).([]byte); ok {
		return body, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.ErrBadRequest.WithDetails("request body too large")
		}
		return nil, apperrors.ErrBadRequest.WithDetails("unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func withBody(r *http.Request, body []byte) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), bodyKey{}, body))
}

// masterSigned authenticates admin routes with the master key only.
func (s *Server) masterSigned(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readBody(r, w)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Gate.Verify(r, body); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, withBody(r, body))
	})
}

// companySigned resolves the tenant and authenticates with the master key
// or the tenant's private key. The domain policy does not apply.
func (s *Server) companySigned(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readBody(r, w)
		if err != nil {
			writeError(w, r, err)
			return
		}
		company, err := s.resolve(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Gate.Verify(r, body, company.PrivateKey); err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), companyKey{}, company)
		next.ServeHTTP(w, withBody(r.WithContext(ctx), body))
	})
}

// companyPublic resolves the tenant and enforces its domain policy.
func (s *Server) companyPublic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, err := s.resolve(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Tenants.CheckOrigin(company, r); err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), companyKey{}, company)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolve(r *http.Request) (store.Company, error) {
	q, err := conn(r)
	if err != nil {
		return store.Company{}, err
	}
	return s.deps.Tenants.Resolve(r.Context(), q, chi.URLParam(r, "company")) //nolint:wrapcheck // classified
}

func companyFrom(r *http.Request) store.Company {
	c, _ := r.Context().Value(companyKey{}).(store.Company)
	return c
}

func bodyFrom(r *http.Request) []byte {
	b, _ := r.Context().Value(bodyKey{}).([]byte)
	return b
}

// clientIP is the first X-Forwarded-For entry, else the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.wrote = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wrote = true
	return sw.ResponseWriter.Write(b) //nolint:wrapcheck // pass-through writer
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
