// Package api is documented in doc.go.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/enquiry"
	"github.com/JakeFAU/contractor-socket/internal/geocode"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/store"
	"github.com/JakeFAU/contractor-socket/internal/tenant"
)

// Companies administers tenants.
type Companies interface {
	Create(ctx context.Context, q database.Querier, c store.Company) (store.Company, error)
	List(ctx context.Context, q database.Querier) ([]store.Company, error)
	Update(ctx context.Context, q database.Querier, id int64, upd store.CompanyUpdate) (store.Company, error)
}

// Contractors writes and lists contractors.
type Contractors interface {
	Set(ctx context.Context, q database.Querier, company store.Company, p store.ContractorPayload, opts postgres.SetOptions) (store.Action, error)
	ListContractors(ctx context.Context, q database.Querier, companyID int64, f store.ContractorFilter) ([]store.ContractorSummary, int64, error)
	GetContractor(ctx context.Context, q database.Querier, companyID, contractorID int64) (store.ContractorDetail, error)
	Subjects(ctx context.Context, q database.Querier, companyID int64) ([]store.SubjectCount, error)
	QualLevels(ctx context.Context, q database.Querier, companyID int64) ([]store.QualLevelCount, error)
	Labels(ctx context.Context, q database.Querier, companyID int64) ([]store.Label, error)
}

// Appointments writes and lists services and appointments.
type Appointments interface {
	Set(ctx context.Context, q database.Querier, companyID, appointmentID int64, p store.AppointmentPayload) (store.Action, error)
	Delete(ctx context.Context, q database.Querier, companyID, appointmentID int64) error
	ListAppointments(ctx context.Context, q database.Querier, companyID int64, f store.AppointmentFilter) ([]store.Appointment, int64, error)
	ListServices(ctx context.Context, q database.Querier, companyID int64) ([]store.Service, error)
}

// Enquiries serves and accepts enquiry forms.
type Enquiries interface {
	Fields(ctx context.Context, company store.Company) (enquiry.Cached, error)
	Accept(ctx context.Context, company store.Company, data map[string]any, ip, referrer string) error
	Clear(ctx context.Context, companyID int64) error
}

// Geocoder resolves free-text locations.
type Geocoder interface {
	Lookup(ctx context.Context, location, country, ip string) (*geocode.Result, error)
}

// Tenants resolves companies and applies their domain policy.
type Tenants interface {
	Resolve(ctx context.Context, q database.Querier, publicKey string) (store.Company, error)
	CheckOrigin(c store.Company, r *http.Request) error
}

// Verifier authenticates signed requests.
type Verifier interface {
	Verify(r *http.Request, body []byte, tenantKeys ...string) error
}

// Jobs enqueues background work requested over HTTP.
type Jobs interface {
	PullSync(ctx context.Context, companyID int64) error
}

// KeyGenerator issues company keys.
type KeyGenerator interface {
	NewKey(n int) (string, error)
}

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	DB           database.Acquirer
	Gate         Verifier
	Tenants      Tenants
	Companies    Companies
	Contractors  Contractors
	Appointments Appointments
	Enquiries    Enquiries
	Geocoder     Geocoder
	Jobs         Jobs
	Keys         KeyGenerator
	// Ready lists the dependencies checked by /readyz.
	Ready map[string]Pinger
}

// Config tunes request handling.
type Config struct {
	MaxBodyBytes int64
	PageSize     int
	// MediaURL prefixes contractor photo paths.
	MediaURL string
}

// Server wires HTTP handlers to the stores and services.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(s.recoverer)
	r.Use(metrics.Middleware)
	r.Use(s.connectionScope)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.masterSigned)
		r.Post("/companies/create", s.createCompany)
		r.Get("/companies", s.listCompanies)
	})

	r.Route("/{company}", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         3600,
		}))

		r.Route("/webhook", func(r chi.Router) {
			r.Use(s.companySigned)
			r.Post("/options", s.updateCompany)
			r.Post("/contractor", s.setContractor)
			r.Post("/clear-enquiry", s.clearEnquiry)
			r.Post("/appointments/{id}", s.setAppointment)
			r.Delete("/appointments/{id}", s.deleteAppointment)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.companyPublic)
			r.Get("/contractors", s.listContractors)
			r.Get("/contractors/{id}", s.getContractor)
			r.Get("/subjects", s.listSubjects)
			r.Get("/qual-levels", s.listQualLevels)
			r.Get("/labels", s.listLabels)
			r.Get("/services", s.listServices)
			r.Get("/appointments", s.listAppointments)
			r.Get("/enquiry", s.getEnquiry)
			r.Post("/enquiry", s.submitEnquiry)
			r.Get("/geocode", s.geocode)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok", nil)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, p := range s.deps.Ready {
		if err := p.Ping(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failed", failed))
		writeStatus(w, http.StatusServiceUnavailable, "unavailable", failed)
		return
	}
	writeStatus(w, http.StatusOK, "ready", nil)
}
