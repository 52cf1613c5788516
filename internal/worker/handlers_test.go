package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/enquiry"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/media"
	"github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

var acme = store.Company{ID: 7, PublicKey: "acmepub", PrivateKey: "acmepriv"}

type fakeCompanies struct{}

func (fakeCompanies) Get(_ context.Context, _ database.Querier, id int64) (store.Company, error) {
	if id != acme.ID {
		return store.Company{}, apperrors.ErrTenantNotFound
	}
	return acme, nil
}

type setCall struct {
	id   int64
	opts postgres.SetOptions
}

type fakeContractors struct {
	sets   []setCall
	hashes map[int64]string
	owned  map[int64]bool
}

func (f *fakeContractors) Set(
	_ context.Context, _ database.Querier, _ store.Company, p store.ContractorPayload, opts postgres.SetOptions,
) (store.Action, error) {
	if f.owned[p.ID] {
		return "", apperrors.ErrOwnershipConflict
	}
	f.sets = append(f.sets, setCall{id: p.ID, opts: opts})
	return store.ActionCreated, nil
}

func (f *fakeContractors) UpdatePhotoHash(_ context.Context, _ database.Querier, _, contractorID int64, hash string) error {
	if f.hashes == nil {
		f.hashes = map[int64]string{}
	}
	f.hashes[contractorID] = hash
	return nil
}

type fakeImages struct{ result media.Result }

func (f fakeImages) FetchAndResize(context.Context, string, int64, string) (media.Result, error) {
	return f.result, nil
}

type fakeUpstream struct {
	items [][]byte
	err   error
}

func (f fakeUpstream) WalkContractors(_ context.Context, _ string, fn func([]byte) error) error {
	for _, item := range f.items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return f.err
}

type fakeEnquiries struct {
	submitted []jobs.EnquiryPayload
}

func (f *fakeEnquiries) Refresh(context.Context, store.Company) (enquiry.Cached, error) {
	return enquiry.Cached{Visible: []enquiry.Field{{Name: "a"}, {Name: "b"}}}, nil
}

func (f *fakeEnquiries) Submit(_ context.Context, _ store.Company, p jobs.EnquiryPayload) (enquiry.Outcome, error) {
	f.submitted = append(f.submitted, p)
	return enquiry.OutcomeCaptchaFailed, nil
}

func message(t *testing.T, typ jobs.Type, payload any) jobs.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return jobs.Message{ID: "job", Type: typ, Priority: jobs.PriorityNormal, Payload: raw}
}

func TestHandleFetchImageStoresHash(t *testing.T) {
	t.Parallel()

	contractors := &fakeContractors{}
	h := NewHandlers(fakeCompanies{}, contractors, fakeImages{result: media.Result{Status: 200, Hash: "abcdef0123"}}, nil, nil, nil)

	out, err := h.Handle(context.Background(), nil, message(t, jobs.TypeFetchImage, jobs.ImagePayload{
		CompanyID: acme.ID, PublicKey: acme.PublicKey, ContractorID: 12, URL: "https://img.test/a.png",
	}))
	require.NoError(t, err)
	require.Equal(t, "photo abcdef0123", out)
	require.Equal(t, map[int64]string{12: "abcdef0123"}, contractors.hashes)
}

func TestHandleFetchImageNon2xxLeavesHash(t *testing.T) {
	t.Parallel()

	contractors := &fakeContractors{}
	h := NewHandlers(fakeCompanies{}, contractors, fakeImages{result: media.Result{Status: 404}}, nil, nil, nil)

	out, err := h.Handle(context.Background(), nil, message(t, jobs.TypeFetchImage, jobs.ImagePayload{ContractorID: 12}))
	require.NoError(t, err)
	require.Equal(t, "status 404", out)
	require.Nil(t, contractors.hashes)
}

func TestHandlePullSyncAppliesValidItems(t *testing.T) {
	t.Parallel()

	contractors := &fakeContractors{owned: map[int64]bool{30: true}}
	up := fakeUpstream{items: [][]byte{
		[]byte(`{"id":10,"first_name":"Ann"}`),
		[]byte(`{"id":0}`),
		[]byte(`not json`),
		[]byte(`{"id":30}`),
		[]byte(`{"id":20,"deleted":true}`),
	}}
	h := NewHandlers(fakeCompanies{}, contractors, nil, up, nil, nil)

	out, err := h.Handle(context.Background(), nil, message(t, jobs.TypePullSync, jobs.CompanyPayload{CompanyID: acme.ID}))
	require.NoError(t, err)
	require.Equal(t, "processed 2, skipped 3", out)

	want := postgres.SetOptions{SkipDeleted: true, PhotoPriority: jobs.PriorityLow}
	require.Equal(t, []setCall{{id: 10, opts: want}, {id: 20, opts: want}}, contractors.sets)
}

func TestHandlePullSyncUpstreamFailure(t *testing.T) {
	t.Parallel()

	up := fakeUpstream{err: apperrors.BadResponse("GET", "public_contractors/", 502, nil)}
	h := NewHandlers(fakeCompanies{}, &fakeContractors{}, nil, up, nil, nil)

	_, err := h.Handle(context.Background(), nil, message(t, jobs.TypePullSync, jobs.CompanyPayload{CompanyID: acme.ID}))
	require.ErrorIs(t, err, apperrors.ErrUpstreamBadResponse)

	_, err = h.Handle(context.Background(), nil, message(t, jobs.TypePullSync, jobs.CompanyPayload{CompanyID: 99}))
	require.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}

func TestHandleEnquiryJobs(t *testing.T) {
	t.Parallel()

	enq := &fakeEnquiries{}
	h := NewHandlers(fakeCompanies{}, nil, nil, nil, enq, nil)

	out, err := h.Handle(context.Background(), nil, message(t, jobs.TypeRefreshEnquiry, jobs.CompanyPayload{CompanyID: acme.ID}))
	require.NoError(t, err)
	require.Equal(t, "2 fields", out)

	payload := jobs.EnquiryPayload{CompanyID: acme.ID, Data: map[string]any{"client_name": "Jane"}, IP: "1.2.3.4"}
	out, err = h.Handle(context.Background(), nil, message(t, jobs.TypeSubmitEnquiry, payload))
	require.NoError(t, err)
	require.Equal(t, string(enquiry.OutcomeCaptchaFailed), out)
	require.Equal(t, []jobs.EnquiryPayload{payload}, enq.submitted)
}

func TestHandleRejectsUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	h := NewHandlers(fakeCompanies{}, nil, nil, nil, nil, nil)

	_, err := h.Handle(context.Background(), nil, jobs.Message{Type: "reindex"})
	require.ErrorContains(t, err, `unknown job type "reindex"`)

	_, err = h.Handle(context.Background(), nil, jobs.Message{Type: jobs.TypePullSync, Payload: json.RawMessage(`[`)})
	require.Error(t, err)
	require.False(t, errors.Is(err, apperrors.ErrTenantNotFound))
}
