package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/auth"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/enquiry"
	"github.com/JakeFAU/contractor-socket/internal/geocode"
	"github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/store"
	"github.com/JakeFAU/contractor-socket/internal/tenant"
)

const (
	masterKey = "master-secret"
	now       = int64(1_700_000_000)
)

var (
	openCompany = store.Company{ID: 1, PublicKey: "openpub", PrivateKey: "openpriv", Name: "Open"}
	lockedCo    = store.Company{
		ID: 2, PublicKey: "lockedpub", PrivateKey: "lockedpriv", Name: "Locked", Domains: []string{"example.com"},
	}
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(now, 0) }

type fakeConn struct {
	database.Querier
	released *atomic.Int32
}

func (c fakeConn) Release() { c.released.Add(1) }

type fakeDB struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (d *fakeDB) Acquire(context.Context) (database.Conn, error) {
	d.acquired.Add(1)
	return fakeConn{released: &d.released}, nil
}

type fakeTenantStore struct{ lookups atomic.Int32 }

func (f *fakeTenantStore) GetByPublicKey(_ context.Context, _ database.Querier, key string) (store.Company, error) {
	f.lookups.Add(1)
	for _, c := range []store.Company{openCompany, lockedCo} {
		if c.PublicKey == key {
			return c, nil
		}
	}
	return store.Company{}, apperrors.ErrTenantNotFound
}

type fakeCompanies struct {
	mu      sync.Mutex
	created []store.Company
	updates []store.CompanyUpdate
	dupe    bool
}

func (f *fakeCompanies) Create(_ context.Context, _ database.Querier, c store.Company) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupe {
		return store.Company{}, apperrors.ErrResourceConflict.WithDetails("company with this public key already exists")
	}
	c.ID = 10
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeCompanies) List(context.Context, database.Querier) ([]store.Company, error) {
	return []store.Company{openCompany, lockedCo}, nil
}

func (f *fakeCompanies) Update(_ context.Context, _ database.Querier, _ int64, upd store.CompanyUpdate) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	c := openCompany
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	return c, nil
}

type fakeContractors struct {
	mu       sync.Mutex
	sets     []store.ContractorPayload
	opts     []postgres.SetOptions
	filters  []store.ContractorFilter
	setErr   error
	setValue store.Action
	panicky  bool
}

func (f *fakeContractors) Set(
	_ context.Context, _ database.Querier, _ store.Company, p store.ContractorPayload, opts postgres.SetOptions,
) (store.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return "", f.setErr
	}
	f.sets = append(f.sets, p)
	f.opts = append(f.opts, opts)
	if f.setValue == "" {
		return store.ActionCreated, nil
	}
	return f.setValue, nil
}

func (f *fakeContractors) ListContractors(
	ctx context.Context, _ database.Querier, _ int64, filter store.ContractorFilter,
) ([]store.ContractorSummary, int64, error) {
	if f.panicky {
		panic("listing exploded")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	rating := 4.5
	return []store.ContractorSummary{{
		ID: 5, FirstName: "Jane", LastName: "doe", TagLine: "Maths", PhotoHash: "abc123",
		ReviewRating: &rating, Labels: []string{"dbs"},
	}}, 31, nil
}

func (f *fakeContractors) GetContractor(_ context.Context, _ database.Querier, _, id int64) (store.ContractorDetail, error) {
	if id != 5 {
		return store.ContractorDetail{}, apperrors.ErrNotFound
	}
	return store.ContractorDetail{
		Contractor: store.Contractor{ID: 5, FirstName: "Jane", LastName: "Doe"},
		Skills:     []store.SkillGroup{{Subject: "Maths", Category: "Science", QualLevels: []string{"GCSE"}}},
	}, nil
}

func (f *fakeContractors) Subjects(context.Context, database.Querier, int64) ([]store.SubjectCount, error) {
	return []store.SubjectCount{{ID: 1, Name: "Maths", Category: "Science", Contractors: 3}}, nil
}

func (f *fakeContractors) QualLevels(context.Context, database.Querier, int64) ([]store.QualLevelCount, error) {
	return nil, nil
}

func (f *fakeContractors) Labels(context.Context, database.Querier, int64) ([]store.Label, error) {
	return []store.Label{{MachineName: "dbs", Name: "DBS checked"}}, nil
}

type fakeAppointments struct {
	deleted []int64
}

func (f *fakeAppointments) Set(context.Context, database.Querier, int64, int64, store.AppointmentPayload) (store.Action, error) {
	return store.ActionUpdated, nil
}

func (f *fakeAppointments) Delete(_ context.Context, _ database.Querier, _, id int64) error {
	if id == 404 {
		return apperrors.ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAppointments) ListAppointments(
	context.Context, database.Querier, int64, store.AppointmentFilter,
) ([]store.Appointment, int64, error) {
	return []store.Appointment{{ID: 3, ServiceID: 9, ServiceName: "Chess"}}, 1, nil
}

func (f *fakeAppointments) ListServices(context.Context, database.Querier, int64) ([]store.Service, error) {
	return nil, nil
}

type fakeEnquiries struct {
	mu       sync.Mutex
	accepted []map[string]any
	ips      []string
	cleared  []int64
}

func (f *fakeEnquiries) Fields(context.Context, store.Company) (enquiry.Cached, error) {
	return enquiry.Cached{Visible: []enquiry.Field{{Name: "client_name", Type: enquiry.TypeString}}, LastUpdated: now}, nil
}

func (f *fakeEnquiries) Accept(_ context.Context, _ store.Company, data map[string]any, ip, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := data[enquiry.CaptchaField]; !ok {
		return apperrors.Validation(map[string]string{enquiry.CaptchaField: "field required"})
	}
	f.accepted = append(f.accepted, data)
	f.ips = append(f.ips, ip)
	return nil
}

func (f *fakeEnquiries) Clear(_ context.Context, id int64) error {
	f.cleared = append(f.cleared, id)
	return nil
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeGeocoder) Lookup(_ context.Context, location, country, ip string) (*geocode.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, location+"|"+country+"|"+ip)
	if location == "nowhere" {
		return nil, nil
	}
	return &geocode.Result{Pretty: "London, UK", Lat: 51.5, Lng: -0.12}, nil
}

type fakeJobs struct{ syncs []int64 }

func (f *fakeJobs) PullSync(_ context.Context, id int64) error {
	f.syncs = append(f.syncs, id)
	return nil
}

type fakeKeys struct{}

func (fakeKeys) NewKey(n int) (string, error) {
	return fmt.Sprintf("%0*d", n, n), nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixture struct {
	server       *Server
	db           *fakeDB
	tenants      *fakeTenantStore
	companies    *fakeCompanies
	contractors  *fakeContractors
	appointments *fakeAppointments
	enquiries    *fakeEnquiries
	geocoder     *fakeGeocoder
	jobs         *fakeJobs
}

func newFixture(t *testing.T, ready map[string]Pinger) *fixture {
	t.Helper()
	f := &fixture{
		db:           &fakeDB{},
		tenants:      &fakeTenantStore{},
		companies:    &fakeCompanies{},
		contractors:  &fakeContractors{},
		appointments: &fakeAppointments{},
		enquiries:    &fakeEnquiries{},
		geocoder:     &fakeGeocoder{},
		jobs:         &fakeJobs{},
	}
	f.server = NewServer(Deps{
		DB:           f.db,
		Gate:         auth.NewGate(masterKey, 10*time.Second, fixedClock{}),
		Tenants:      tenant.NewResolver(f.tenants, "socket.test"),
		Companies:    f.companies,
		Contractors:  f.contractors,
		Appointments: f.appointments,
		Enquiries:    f.enquiries,
		Geocoder:     f.geocoder,
		Jobs:         f.jobs,
		Keys:         fakeKeys{},
		Ready:        ready,
	}, Config{MaxBodyBytes: 4096, PageSize: 20, MediaURL: "https://media.test/"}, nil)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// signedPost builds a POST whose body carries _request_time and is signed
// with key.
func signedPost(t *testing.T, path, key string, age int64, fields string) *http.Request {
	t.Helper()
	body := `{"_request_time":` + strconv.FormatInt(now-age, 10)
	if fields != "" {
		body += "," + fields
	}
	body += "}"
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set(auth.HeaderSignature, auth.Sign(key, []byte(body)))
	return req
}

func signedGet(path, key string) *http.Request {
	ts := strconv.FormatInt(now, 10)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(auth.HeaderRequestTime, ts)
	req.Header.Set(auth.HeaderSignature, auth.Sign(key, []byte(ts)))
	return req
}

func requireEnvelope(t *testing.T, rec *httptest.ResponseRecorder, code int, status string) {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"`+status+`"`)
}
