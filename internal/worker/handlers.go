package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/enquiry"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/media"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// Companies loads tenants by id.
type Companies interface {
	Get(ctx context.Context, q database.Querier, id int64) (store.Company, error)
}

// Contractors applies contractor writes.
type Contractors interface {
	Set(ctx context.Context, q database.Querier, company store.Company, p store.ContractorPayload, opts postgres.SetOptions) (store.Action, error)
	UpdatePhotoHash(ctx context.Context, q database.Querier, companyID, contractorID int64, hash string) error
}

// Images renders contractor photos.
type Images interface {
	FetchAndResize(ctx context.Context, publicKey string, contractorID int64, url string) (media.Result, error)
}

// Upstream pages through the platform's contractor list.
type Upstream interface {
	WalkContractors(ctx context.Context, privateKey string, fn func(item []byte) error) error
}

// Enquiries refreshes and forwards enquiry forms.
type Enquiries interface {
	Refresh(ctx context.Context, company store.Company) (enquiry.Cached, error)
	Submit(ctx context.Context, company store.Company, p jobs.EnquiryPayload) (enquiry.Outcome, error)
}

// Handlers routes messages to the job implementations.
type Handlers struct {
	companies   Companies
	contractors Contractors
	images      Images
	upstream    Upstream
	enquiries   Enquiries
	logger      *zap.Logger
}

// NewHandlers creates Handlers.
func NewHandlers(
	companies Companies,
	contractors Contractors,
	images Images,
	up Upstream,
	enquiries Enquiries,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		companies:   companies,
		contractors: contractors,
		images:      images,
		upstream:    up,
		enquiries:   enquiries,
		logger:      logger.Named("jobs"),
	}
}

// Handle decodes msg and runs its job, returning a short result summary.
func (h *Handlers) Handle(ctx context.Context, q database.Querier, msg jobs.Message) (string, error) {
	switch msg.Type {
	case jobs.TypeFetchImage:
		var p jobs.ImagePayload
		if err := msg.Decode(&p); err != nil {
			return "", err //nolint:wrapcheck // Decode names the job type
		}
		return h.fetchImage(ctx, q, p)
	case jobs.TypePullSync:
		var p jobs.CompanyPayload
		if err := msg.Decode(&p); err != nil {
			return "", err //nolint:wrapcheck // Decode names the job type
		}
		return h.pullSync(ctx, q, p.CompanyID)
	case jobs.TypeRefreshEnquiry:
		var p jobs.CompanyPayload
		if err := msg.Decode(&p); err != nil {
			return "", err //nolint:wrapcheck // Decode names the job type
		}
		return h.refreshEnquiry(ctx, q, p.CompanyID)
	case jobs.TypeSubmitEnquiry:
		var p jobs.EnquiryPayload
		if err := msg.Decode(&p); err != nil {
			return "", err //nolint:wrapcheck // Decode names the job type
		}
		return h.submitEnquiry(ctx, q, p)
	default:
		return "", fmt.Errorf("unknown job type %q", msg.Type)
	}
}

func (h *Handlers) fetchImage(ctx context.Context, q database.Querier, p jobs.ImagePayload) (string, error) {
	res, err := h.images.FetchAndResize(ctx, p.PublicKey, p.ContractorID, p.URL)
	if err != nil {
		return "", fmt.Errorf("contractor %d photo: %w", p.ContractorID, err)
	}
	if !res.OK() {
		return fmt.Sprintf("status %d", res.Status), nil
	}
	if err := h.contractors.UpdatePhotoHash(ctx, q, p.CompanyID, p.ContractorID, res.Hash); err != nil {
		return "", err //nolint:wrapcheck // store errors are wrapped
	}
	return "photo " + res.Hash, nil
}

// pullSync applies every upstream contractor. Items that fail validation or
// are owned by another company are skipped; anything else aborts the sync.
func (h *Handlers) pullSync(ctx context.Context, q database.Querier, companyID int64) (string, error) {
	company, err := h.companies.Get(ctx, q, companyID)
	if err != nil {
		return "", err //nolint:wrapcheck // store errors are classified
	}
	log := h.logger.With(zap.String("company", company.PublicKey))
	opts := postgres.SetOptions{SkipDeleted: true, PhotoPriority: jobs.PriorityLow}
	processed, skipped := 0, 0
	err = h.upstream.WalkContractors(ctx, company.PrivateKey, func(item []byte) error {
		var p store.ContractorPayload
		if err := json.Unmarshal(item, &p); err != nil {
			skipped++
			log.Warn("skipping undecodable contractor", zap.Error(err))
			return nil
		}
		if err := store.ValidatePayload(p); err != nil {
			skipped++
			log.Warn("skipping invalid contractor", zap.Int64("contractor_id", p.ID), zap.Error(err))
			return nil
		}
		action, err := h.contractors.Set(ctx, q, company, p, opts)
		switch {
		case errors.Is(err, apperrors.ErrOwnershipConflict):
			skipped++
			log.Warn("skipping contractor owned by another company", zap.Int64("contractor_id", p.ID))
			return nil
		case err != nil:
			return fmt.Errorf("contractor %d: %w", p.ID, err)
		}
		processed++
		if action != "" {
			metrics.ObserveContractorWrite(string(action))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sync %s: %w", company.PublicKey, err)
	}
	return fmt.Sprintf("processed %d, skipped %d", processed, skipped), nil
}

func (h *Handlers) refreshEnquiry(ctx context.Context, q database.Querier, companyID int64) (string, error) {
	company, err := h.companies.Get(ctx, q, companyID)
	if err != nil {
		return "", err //nolint:wrapcheck // store errors are classified
	}
	form, err := h.enquiries.Refresh(ctx, company)
	if err != nil {
		return "", fmt.Errorf("refresh enquiry %s: %w", company.PublicKey, err)
	}
	return fmt.Sprintf("%d fields", len(form.Visible)), nil
}

func (h *Handlers) submitEnquiry(ctx context.Context, q database.Querier, p jobs.EnquiryPayload) (string, error) {
	company, err := h.companies.Get(ctx, q, p.CompanyID)
	if err != nil {
		return "", err //nolint:wrapcheck // store errors are classified
	}
	outcome, err := h.enquiries.Submit(ctx, company, p)
	if err != nil {
		return "", fmt.Errorf("submit enquiry %s: %w", company.PublicKey, err)
	}
	return string(outcome), nil
}
