package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

const headerCountry = "CF-IPCountry"

type contractorView struct {
	ID                 int64    `json:"id"`
	Link               string   `json:"link"`
	Name               string   `json:"name"`
	Photo              string   `json:"photo,omitempty"`
	TagLine            string   `json:"tag_line"`
	PrimaryDescription string   `json:"primary_description"`
	Town               string   `json:"town"`
	Country            string   `json:"country"`
	Labels             []string `json:"labels"`
	ReviewRating       *float64 `json:"review_rating"`
	ReviewDuration     int      `json:"review_duration"`
	Distance           *float64 `json:"distance,omitempty"`
}

type contractorDetailView struct {
	contractorView
	PhotoLarge      string                 `json:"photo_large,omitempty"`
	ExtraAttributes []store.ExtraAttribute `json:"extra_attributes"`
	Skills          []store.SkillGroup     `json:"skills"`
	Location        *store.Location        `json:"location,omitempty"`
	LastUpdated     time.Time              `json:"last_updated"`
}

func (s *Server) photoURL(company store.Company, id int64, hash, suffix string) string {
	if hash == "" {
		return ""
	}
	base := strings.TrimSuffix(s.cfg.MediaURL, "/")
	return base + "/" + company.PublicKey + "/" + strconv.FormatInt(id, 10) + suffix + "?h=" + hash
}

func (s *Server) summaryView(company store.Company, c store.ContractorSummary) contractorView {
	name := company.DisplayName(c.FirstName, c.LastName)
	labels := c.Labels
	if labels == nil {
		labels = []string{}
	}
	return contractorView{
		ID:                 c.ID,
		Link:               contractorLink(c.ID, name),
		Name:               name,
		Photo:              s.photoURL(company, c.ID, c.PhotoHash, ".thumb.jpg"),
		TagLine:            c.TagLine,
		PrimaryDescription: c.PrimaryDescription,
		Town:               c.Town,
		Country:            c.Country,
		Labels:             labels,
		ReviewRating:       c.ReviewRating,
		ReviewDuration:     c.ReviewDuration,
		Distance:           c.Distance,
	}
}

// contractorLink is "{id}-{slug}", the widget's stable permalink segment.
func contractorLink(id int64, name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return strconv.FormatInt(id, 10)
	}
	return strconv.FormatInt(id, 10) + "-" + slug
}

func (s *Server) listContractors(w http.ResponseWriter, r *http.Request) {
	company := companyFrom(r)
	query := r.URL.Query()
	f := store.ContractorFilter{Label: query.Get("label"), PageSize: s.cfg.PageSize}
	var err error
	if f.SubjectID, err = optionalID(query.Get("subject"), "subject"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.QualLevelID, err = optionalID(query.Get("qual_level"), "qual_level"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Page, _ = strconv.Atoi(query.Get("page"))
	if v := query.Get("max_distance"); v != "" {
		if f.MaxDistance, err = strconv.ParseFloat(v, 64); err != nil || f.MaxDistance <= 0 {
			writeError(w, r, apperrors.Validation(map[string]string{"max_distance": "a valid number is required"}))
			return
		}
	}
	if f.Near, err = s.near(r); err != nil {
		writeError(w, r, err)
		return
	}

	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, total, err := s.deps.Contractors.ListContractors(r.Context(), q, company.ID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]contractorView, 0, len(rows))
	for _, c := range rows {
		views = append(views, s.summaryView(company, c))
	}
	writeList(w, views, total)
}

// near reads explicit latitude/longitude, else geocodes the location
// parameter. A location with no match leaves the listing unsorted by
// distance.
func (s *Server) near(r *http.Request) (*store.Location, error) {
	query := r.URL.Query()
	if lat, lng := query.Get("latitude"), query.Get("longitude"); lat != "" || lng != "" {
		la, errLat := strconv.ParseFloat(lat, 64)
		ln, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil || la < -90 || la > 90 || ln < -180 || ln > 180 {
			return nil, apperrors.Validation(map[string]string{"location": "invalid latitude or longitude"})
		}
		return &store.Location{Latitude: la, Longitude: ln}, nil
	}
	location := strings.TrimSpace(query.Get("location"))
	if location == "" {
		return nil, nil
	}
	res, err := s.deps.Geocoder.Lookup(r.Context(), location, r.Header.Get(headerCountry), clientIP(r))
	if err != nil || res == nil {
		return nil, err //nolint:wrapcheck // geocoder errors are classified
	}
	return &store.Location{Latitude: res.Lat, Longitude: res.Lng}, nil
}

func (s *Server) getContractor(w http.ResponseWriter, r *http.Request) {
	company := companyFrom(r)
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
	d, err := s.deps.Contractors.GetContractor(r.Context(), q, company.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary := s.summaryView(company, store.ContractorSummary{
		ID:                 d.ID,
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		TagLine:            d.TagLine,
		PrimaryDescription: d.PrimaryDescription,
		Town:               d.Town,
		Country:            d.Country,
		PhotoHash:          d.PhotoHash,
		ReviewRating:       d.ReviewRating,
		ReviewDuration:     d.ReviewDuration,
		Labels:             d.Labels,
	})
	extra := d.ExtraAttributes
	if extra == nil {
		extra = []store.ExtraAttribute{}
	}
	skills := d.Skills
	if skills == nil {
		skills = []store.SkillGroup{}
	}
	writeSuccess(w, http.StatusOK, contractorDetailView{
		contractorView:  summary,
		PhotoLarge:      s.photoURL(company, d.ID, d.PhotoHash, ".jpg"),
		ExtraAttributes: extra,
		Skills:          skills,
		Location:        d.Location,
		LastUpdated:     d.LastUpdated,
	})
}

func (s *Server) listSubjects(w http.ResponseWriter, r *http.Request) {
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Contractors.Subjects(r.Context(), q, companyFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, rows, int64(len(rows)))
}

func (s *Server) listQualLevels(w http.ResponseWriter, r *http.Request) {
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Contractors.QualLevels(r.Context(), q, companyFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, rows, int64(len(rows)))
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Contractors.Labels(r.Context(), q, companyFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, rows, int64(len(rows)))
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Appointments.ListServices(r.Context(), q, companyFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, rows, int64(len(rows)))
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	f := store.AppointmentFilter{PageSize: s.cfg.PageSize}
	var err error
	if f.ServiceID, err = optionalID(query.Get("service"), "service"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Page, _ = strconv.Atoi(query.Get("page"))
	q, err := conn(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, total, err := s.deps.Appointments.ListAppointments(r.Context(), q, companyFrom(r).ID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, rows, total)
}

func (s *Server) getEnquiry(w http.ResponseWriter, r *http.Request) {
	form, err := s.deps.Enquiries.Fields(r.Context(), companyFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, form)
}

func (s *Server) submitEnquiry(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r, w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var data map[string]any
	if err := decodeJSON(body, &data); err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		writeError(w, r, apperrors.ErrBadRequest.WithDetails("expected a JSON object"))
		return
	}
	err = s.deps.Enquiries.Accept(r.Context(), companyFrom(r), data, clientIP(r), r.Header.Get("Referer"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "enquiry submitted for processing")
}

func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	location := strings.TrimSpace(r.URL.Query().Get("q"))
	if location == "" {
		writeError(w, r, apperrors.Validation(map[string]string{"q": "field required"}))
		return
	}
	res, err := s.deps.Geocoder.Lookup(r.Context(), location, r.Header.Get(headerCountry), clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func optionalID(raw, field string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperrors.Validation(map[string]string{field: "a valid integer is required"})
	}
	return &id, nil
}
