package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/logging"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

const (
	publicKeyLength  = 20
	privateKeyLength = 40
)

type companyView struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	PublicKey   string            `json:"public_key"`
	PrivateKey  string            `json:"private_key"`
	NameDisplay store.NameDisplay `json:"name_display"`
	Domains     []string          `json:"domains"`
	Options     map[string]any    `json:"options,omitempty"`
}

func newCompanyView(c store.Company) companyView {
	return companyView{
		ID:          c.ID,
		Name:        c.Name,
		PublicKey:   c.PublicKey,
		PrivateKey:  c.PrivateKey,
		NameDisplay: c.NameDisplay,
		Domains:     c.Domains,
		Options:     c.Options,
	}
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	var req store.CompanyCreate
	if err := decodeJSON(bodyFrom(r), &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.ValidatePayload(req); err != nil {
		writeError(w, r, err)
		return
	}
	c := store.Company{
		PublicKey:   req.PublicKey,
		PrivateKey:  req.PrivateKey,
		Name:        req.Name,
		NameDisplay: req.NameDisplay,
		Domains:     req.Domains,
		Options:     req.Options,
	}
	var err error
	if c.PublicKey == "" {
		if c.PublicKey, err = s.deps.Keys.NewKey(publicKeyLength); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if c.PrivateKey == "" {
		if c.PrivateKey, err = s.deps.Keys.NewKey(privateKeyLength); err != nil {
			writeError(w, r, err)
			return
		}
	}

	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Companies.Create(r.Context(), q, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log := logging.FromContext(r.Context(), s.logger)
	log.Info("company created", zap.Int64("company_id", created.ID), zap.String("public_key", created.PublicKey))
	if req.ImportExisting {
		if err := s.deps.Jobs.PullSync(r.Context(), created.ID); err != nil {
			log.Warn("initial sync enqueue failed", zap.Int64("company_id", created.ID), zap.Error(err))
		}
	}
	writeSuccess(w, http.StatusCreated, newCompanyView(created))
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	companies, err := s.deps.Companies.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]companyView, 0, len(companies))
	for _, c := range companies {
		views = append(views, newCompanyView(c))
	}
	writeList(w, views, int64(len(views)))
}

func (s *Server) updateCompany(w http.ResponseWriter, r *http.Request) {
	var upd store.CompanyUpdate
	if err := decodeJSON(bodyFrom(r), &upd); err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.ValidatePayload(upd); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.deps.Companies.Update(r.Context(), q, companyFrom(r).ID, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, newCompanyView(updated))
}

func (s *Server) setContractor(w http.ResponseWriter, r *http.Request) {
	var p store.ContractorPayload
	if err := decodeJSON(bodyFrom(r), &p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.ValidatePayload(p); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	action, err := s.deps.Contractors.Set(r.Context(), q, companyFrom(r), p,
		postgres.SetOptions{PhotoPriority: jobs.PriorityNormal})
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.ObserveContractorWrite(string(action))
	writeSuccess(w, actionStatus(action), "contractor "+string(action))
}

func (s *Server) clearEnquiry(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Enquiries.Clear(r.Context(), companyFrom(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "enquiry schema cleared")
}

func (s *Server) setAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var p store.AppointmentPayload
	if err := decodeJSON(bodyFrom(r), &p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.ValidatePayload(p); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	action, err := s.deps.Appointments.Set(r.Context(), q, companyFrom(r).ID, id, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, actionStatus(action), "appointment "+string(action))
}

func (s *Server) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Appointments.Delete(r.Context(), q, companyFrom(r).ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "appointment deleted")
}

func actionStatus(a store.Action) int {
	if a == store.ActionCreated {
		return http.StatusCreated
	}
	return http.StatusOK
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ErrNotFound
	}
	return id, nil
}
