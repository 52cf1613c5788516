package enquiry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/cache"
	"github.com/JakeFAU/contractor-socket/internal/captcha"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/store"
	"github.com/JakeFAU/contractor-socket/internal/upstream"
)

// CaptchaField carries the reCAPTCHA token in submissions.
const CaptchaField = "grecaptcha_response"

// Upstream is the subset of the platform API used for enquiries.
type Upstream interface {
	EnquiryOptions(ctx context.Context, privateKey string) ([]byte, error)
	SubmitEnquiry(ctx context.Context, privateKey string, data map[string]any) (upstream.Response, error)
}

// Verifier checks CAPTCHA tokens.
type Verifier interface {
	Verify(ctx context.Context, token, ip string) (captcha.Verdict, error)
}

// DomainPolicy decides whether a host belongs to a company.
type DomainPolicy interface {
	DomainAllowed(domains []string, host string) bool
}

// Jobs enqueues enquiry background work.
type Jobs interface {
	RefreshEnquiry(ctx context.Context, companyID int64) error
	SubmitEnquiry(ctx context.Context, p jobs.EnquiryPayload) error
}

// Clock supplies freshness timestamps.
type Clock interface {
	Now() time.Time
}

// Config controls schema caching.
type Config struct {
	CacheTTL   time.Duration
	StaleAfter time.Duration
}

// Cached is the stored form description.
type Cached struct {
	Visible     []Field `json:"visible"`
	LastUpdated int64   `json:"last_updated"`
}

// Outcome reports what a submission job did.
type Outcome string

// Submission outcomes.
const (
	OutcomeSubmitted     Outcome = "submitted"
	OutcomeCaptchaFailed Outcome = "captcha failed"
	OutcomeSchemaStale   Outcome = "schema refresh requested"
)

// Service owns the enquiry form lifecycle.
type Service struct {
	cache    cache.Cache
	upstream Upstream
	verifier Verifier
	policy   DomainPolicy
	jobs     Jobs
	clock    Clock
	cfg      Config
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(
	c cache.Cache,
	up Upstream,
	verifier Verifier,
	policy DomainPolicy,
	queue Jobs,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:    c,
		upstream: up,
		verifier: verifier,
		policy:   policy,
		jobs:     queue,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("enquiry"),
	}
}

// CacheKey is the per-company schema key.
func CacheKey(companyID int64) string {
	return "enquiry-data-" + strconv.FormatInt(companyID, 10)
}

// Fields returns the company's form. A missing schema is fetched inline; a
// stale one is served while a refresh is queued.
func (s *Service) Fields(ctx context.Context, company store.Company) (Cached, error) {
	raw, ok, err := s.cache.Get(ctx, CacheKey(company.ID))
	if err != nil {
		return Cached{}, fmt.Errorf("read enquiry cache: %w", err)
	}
	if !ok {
		return s.Refresh(ctx, company)
	}
	var cached Cached
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.Warn("discarding unreadable enquiry cache", zap.Int64("company_id", company.ID), zap.Error(err))
		return s.Refresh(ctx, company)
	}
	age := s.clock.Now().Sub(time.Unix(cached.LastUpdated, 0))
	if s.cfg.StaleAfter > 0 && age > s.cfg.StaleAfter {
		if err := s.jobs.RefreshEnquiry(ctx, company.ID); err != nil {
			s.logger.Warn("enquiry refresh enqueue failed", zap.Int64("company_id", company.ID), zap.Error(err))
		}
	}
	return cached, nil
}

// Refresh fetches the upstream schema and caches it.
func (s *Service) Refresh(ctx context.Context, company store.Company) (Cached, error) {
	raw, err := s.upstream.EnquiryOptions(ctx, company.PrivateKey)
	if err != nil {
		return Cached{}, err //nolint:wrapcheck // upstream errors are classified
	}
	cached := Cached{Visible: ParseOptions(raw), LastUpdated: s.clock.Now().Unix()}
	if cached.Visible == nil {
		cached.Visible = []Field{}
	}
	encoded, err := json.Marshal(cached)
	if err != nil {
		return Cached{}, fmt.Errorf("encode enquiry cache: %w", err)
	}
	if err := s.cache.Set(ctx, CacheKey(company.ID), encoded, s.cfg.CacheTTL); err != nil {
		return Cached{}, fmt.Errorf("write enquiry cache: %w", err)
	}
	return cached, nil
}

// Clear drops the cached schema so the next read refetches it.
func (s *Service) Clear(ctx context.Context, companyID int64) error {
	if err := s.cache.Delete(ctx, CacheKey(companyID)); err != nil {
		return fmt.Errorf("clear enquiry cache: %w", err)
	}
	return nil
}

// Accept validates a submission against the current form and queues it.
func (s *Service) Accept(ctx context.Context, company store.Company, data map[string]any, ip, referrer string) error {
	form, err := s.Fields(ctx, company)
	if err != nil {
		return err
	}
	clean, err := Validate(form.Visible, data)
	if err != nil {
		return err //nolint:wrapcheck // ValidationFailed passes through
	}
	token, _ := data[CaptchaField].(string)
	if token == "" {
		return apperrors.Validation(map[string]string{CaptchaField: "field required"})
	}
	clean[CaptchaField] = token
	return s.jobs.SubmitEnquiry(ctx, jobs.EnquiryPayload{
		CompanyID: company.ID,
		Data:      clean,
		IP:        ip,
		Referrer:  referrer,
	})
}

// Submit verifies the CAPTCHA and forwards the enquiry upstream. A CAPTCHA
// failure is an outcome, not an error.
func (s *Service) Submit(ctx context.Context, company store.Company, p jobs.EnquiryPayload) (Outcome, error) {
	data := make(map[string]any, len(p.Data)+2)
	for k, v := range p.Data {
		data[k] = v
	}
	token, _ := data[CaptchaField].(string)
	delete(data, CaptchaField)

	log := s.logger.With(zap.Int64("company_id", company.ID))
	verdict, err := s.verifier.Verify(ctx, token, p.IP)
	if err != nil {
		return "", err //nolint:wrapcheck // verifier errors are classified
	}
	if !verdict.Success {
		log.Info("enquiry captcha failed", zap.String("ip", p.IP))
		return OutcomeCaptchaFailed, nil
	}
	if len(company.Domains) > 0 && !s.policy.DomainAllowed(company.Domains, verdict.Hostname) {
		log.Info("enquiry captcha hostname not allowed", zap.String("hostname", verdict.Hostname))
		return OutcomeCaptchaFailed, nil
	}

	if p.IP != "" {
		data["ip_address"] = p.IP
	}
	if p.Referrer != "" {
		data["http_referrer"] = p.Referrer
	}
	resp, err := s.upstream.SubmitEnquiry(ctx, company.PrivateKey, data)
	if err != nil {
		return "", err //nolint:wrapcheck // upstream wraps
	}
	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return OutcomeSubmitted, nil
	case resp.Status == http.StatusBadRequest:
		log.Warn("enquiry rejected upstream, refreshing schema", zap.ByteString("body", truncate(resp.Body)))
		if err := s.jobs.RefreshEnquiry(ctx, company.ID); err != nil {
			return "", fmt.Errorf("queue enquiry refresh: %w", err)
		}
		return OutcomeSchemaStale, nil
	default:
		return "", apperrors.BadResponse(http.MethodPost, "enquiry/", resp.Status, resp.Body)
	}
}

func truncate(b []byte) []byte {
	if len(b) > 400 {
		return b[:400]
	}
	return b
}
