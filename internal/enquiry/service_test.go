package enquiry

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/cache"
	"github.com/JakeFAU/contractor-socket/internal/captcha"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/store"
	"github.com/JakeFAU/contractor-socket/internal/upstream"
)

const optionsBody = `{"actions":{"POST":{"client_name":{"type":"string","required":true,"label":"Name"}}}}`

type fakeUpstream struct {
	optionsCalls int
	submitted    []map[string]any
	status       int
}

func (f *fakeUpstream) EnquiryOptions(context.Context, string) ([]byte, error) {
	f.optionsCalls++
	return []byte(optionsBody), nil
}

func (f *fakeUpstream) SubmitEnquiry(_ context.Context, _ string, data map[string]any) (upstream.Response, error) {
	f.submitted = append(f.submitted, data)
	return upstream.Response{Status: f.status, Body: []byte(`{"detail":"x"}`)}, nil
}

type fakeVerifier struct{ verdict captcha.Verdict }

func (f fakeVerifier) Verify(context.Context, string, string) (captcha.Verdict, error) {
	return f.verdict, nil
}

type exactPolicy struct{}

func (exactPolicy) DomainAllowed(domains []string, host string) bool {
	for _, d := range domains {
		if d == host {
			return true
		}
	}
	return false
}

type fakeJobs struct {
	refreshes []int64
	submits   []jobs.EnquiryPayload
}

func (f *fakeJobs) RefreshEnquiry(_ context.Context, id int64) error {
	f.refreshes = append(f.refreshes, id)
	return nil
}

func (f *fakeJobs) SubmitEnquiry(_ context.Context, p jobs.EnquiryPayload) error {
	f.submits = append(f.submits, p)
	return nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type fixture struct {
	svc   *Service
	up    *fakeUpstream
	jobs  *fakeJobs
	clock *fixedClock
	cache *cache.Memory
}

func newFixture(verdict captcha.Verdict, status int) fixture {
	f := fixture{
		up:    &fakeUpstream{status: status},
		jobs:  &fakeJobs{},
		clock: &fixedClock{t: time.Unix(1700000000, 0)},
		cache: cache.NewMemory(nil),
	}
	f.svc = NewService(f.cache, f.up, fakeVerifier{verdict: verdict}, exactPolicy{}, f.jobs, f.clock,
		Config{CacheTTL: 24 * time.Hour, StaleAfter: time.Hour}, nil)
	return f
}

var company = store.Company{ID: 4, PrivateKey: "priv", Domains: []string{"example.com"}}

func TestFieldsFetchesOnMissThenServesCache(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{}, 201)
	ctx := context.Background()

	got, err := f.svc.Fields(ctx, company)
	require.NoError(t, err)
	require.Len(t, got.Visible, 1)
	require.Equal(t, f.clock.t.Unix(), got.LastUpdated)

	_, err = f.svc.Fields(ctx, company)
	require.NoError(t, err)
	require.Equal(t, 1, f.up.optionsCalls)
	require.Empty(t, f.jobs.refreshes)

	raw, ok, err := f.cache.Get(ctx, "enquiry-data-4")
	require.NoError(t, err)
	require.True(t, ok)
	var cached Cached
	require.NoError(t, json.Unmarshal(raw, &cached))
	require.Equal(t, "client_name", cached.Visible[0].Name)
}

func TestFieldsQueuesRefreshWhenStale(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{}, 201)
	ctx := context.Background()
	_, err := f.svc.Fields(ctx, company)
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	_, err = f.svc.Fields(ctx, company)
	require.NoError(t, err)
	require.Equal(t, []int64{4}, f.jobs.refreshes)
	require.Equal(t, 1, f.up.optionsCalls, "stale schema is still served from cache")
}

func TestClearDropsSchema(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{}, 201)
	ctx := context.Background()
	_, err := f.svc.Fields(ctx, company)
	require.NoError(t, err)
	require.NoError(t, f.svc.Clear(ctx, company.ID))
	_, err = f.svc.Fields(ctx, company)
	require.NoError(t, err)
	require.Equal(t, 2, f.up.optionsCalls)
}

func TestAcceptValidatesAndQueues(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{}, 201)
	ctx := context.Background()

	err := f.svc.Accept(ctx, company, map[string]any{"client_name": "Jane"}, "1.2.3.4", "")
	details, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, map[string]string{CaptchaField: "field required"}, details.Details)

	err = f.svc.Accept(ctx, company, map[string]any{CaptchaField: "tok"}, "1.2.3.4", "")
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	err = f.svc.Accept(ctx, company, map[string]any{"client_name": "Jane", CaptchaField: "tok", "x": 1},
		"1.2.3.4", "https://example.com/page")
	require.NoError(t, err)
	require.Equal(t, []jobs.EnquiryPayload{{
		CompanyID: 4,
		Data:      map[string]any{"client_name": "Jane", CaptchaField: "tok"},
		IP:        "1.2.3.4",
		Referrer:  "https://example.com/page",
	}}, f.jobs.submits)
}

func TestSubmitForwardsWithClientDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{Success: true, Hostname: "example.com"}, http.StatusCreated)
	outcome, err := f.svc.Submit(context.Background(), company, jobs.EnquiryPayload{
		CompanyID: 4,
		Data:      map[string]any{"client_name": "Jane", CaptchaField: "tok"},
		IP:        "1.2.3.4",
		Referrer:  "https://example.com/page",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, outcome)
	require.Equal(t, []map[string]any{{
		"client_name":   "Jane",
		"ip_address":    "1.2.3.4",
		"http_referrer": "https://example.com/page",
	}}, f.up.submitted)
}

func TestSubmitCaptchaFailures(t *testing.T) {
	t.Parallel()

	t.Run("rejected token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(captcha.Verdict{Success: false}, http.StatusCreated)
		outcome, err := f.svc.Submit(context.Background(), company, jobs.EnquiryPayload{Data: map[string]any{}})
		require.NoError(t, err)
		require.Equal(t, OutcomeCaptchaFailed, outcome)
		require.Empty(t, f.up.submitted)
	})

	t.Run("foreign hostname", func(t *testing.T) {
		t.Parallel()
		f := newFixture(captcha.Verdict{Success: true, Hostname: "evil.test"}, http.StatusCreated)
		outcome, err := f.svc.Submit(context.Background(), company, jobs.EnquiryPayload{Data: map[string]any{}})
		require.NoError(t, err)
		require.Equal(t, OutcomeCaptchaFailed, outcome)
		require.Empty(t, f.up.submitted)
	})

	t.Run("no registered domains skips hostname check", func(t *testing.T) {
		t.Parallel()
		f := newFixture(captcha.Verdict{Success: true, Hostname: "anything.test"}, http.StatusCreated)
		outcome, err := f.svc.Submit(context.Background(), store.Company{ID: 4}, jobs.EnquiryPayload{Data: map[string]any{}})
		require.NoError(t, err)
		require.Equal(t, OutcomeSubmitted, outcome)
	})
}

func TestSubmitUpstreamRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(captcha.Verdict{Success: true, Hostname: "example.com"}, http.StatusBadRequest)
	outcome, err := f.svc.Submit(context.Background(), company, jobs.EnquiryPayload{CompanyID: 4, Data: map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, OutcomeSchemaStale, outcome)
	require.Equal(t, []int64{4}, f.jobs.refreshes)

	f = newFixture(captcha.Verdict{Success: true, Hostname: "example.com"}, http.StatusBadGateway)
	_, err = f.svc.Submit(context.Background(), company, jobs.EnquiryPayload{CompanyID: 4, Data: map[string]any{}})
	require.ErrorIs(t, err, apperrors.ErrUpstreamBadResponse)
	status, ok := apperrors.UpstreamStatus(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, status)
}
