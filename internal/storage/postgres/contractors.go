package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/reconcile"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// PhotoQueue accepts photo fetch jobs.
type PhotoQueue interface {
	FetchImage(ctx context.Context, p jobs.ImagePayload, prio jobs.Priority) error
}

// SetOptions tunes contractor_set for its caller.
type SetOptions struct {
	// SkipDeleted ignores deletion markers, as a full sync must.
	SkipDeleted bool
	// PhotoPriority is the queue class for the photo job.
	PhotoPriority jobs.Priority
}

// ContractorStore persists contractors and reconciles their skills and labels.
type ContractorStore struct {
	photos PhotoQueue
	now    func() time.Time
	logger *zap.Logger
}

// NewContractorStore creates a ContractorStore. photos may be nil, in which
// case photo URLs are ignored.
func NewContractorStore(photos PhotoQueue, logger *zap.Logger) *ContractorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractorStore{
		photos: photos,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Set creates, updates, or deletes a contractor for company. The row, its
// skills, and its labels are written in one transaction; a photo job is
// enqueued after commit.
func (s *ContractorStore) Set(
	ctx context.Context,
	q database.Querier,
	company store.Company,
	p store.ContractorPayload,
	opts SetOptions,
) (store.Action, error) {
	if p.Deleted {
		if opts.SkipDeleted {
			return "", nil
		}
		if err := s.Delete(ctx, q, company.ID, p.ID); err != nil {
			return "", err
		}
		return store.ActionDeleted, nil
	}

	c := store.FromPayload(company.ID, p, s.now())
	var action store.Action
	err := database.InTx(ctx, q, func(tx pgx.Tx) error {
		var err error
		if action, err = upsertContractor(ctx, tx, c); err != nil {
			return err
		}
		if err := setSkills(ctx, tx, c.ID, p.Skills); err != nil {
			return err
		}
		return setLabels(ctx, tx, company.ID, p.Labels)
	})
	if err != nil {
		return "", err //nolint:wrapcheck // classified errors pass through unchanged
	}

	if p.Photo != "" && s.photos != nil {
		img := jobs.ImagePayload{
			CompanyID:    company.ID,
			PublicKey:    company.PublicKey,
			ContractorID: c.ID,
			URL:          p.Photo,
		}
		if err := s.photos.FetchImage(ctx, img, opts.PhotoPriority); err != nil {
			s.logger.Warn("photo job enqueue failed",
				zap.Int64("contractor_id", c.ID),
				zap.Error(err),
			)
		}
	}
	return action, nil
}

// Delete removes the contractor scoped to company.
func (s *ContractorStore) Delete(ctx context.Context, q database.Querier, companyID, contractorID int64) error {
	tag, err := q.Exec(ctx, `DELETE FROM contractors WHERE company = $1 AND id = $2`, companyID, contractorID)
	if err != nil {
		return fmt.Errorf("delete contractor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound.WithDetails(fmt.Sprintf("contractor with id %d not found", contractorID))
	}
	return nil
}

// SetSkills reconciles a contractor's skills in its own transaction.
func (s *ContractorStore) SetSkills(ctx context.Context, q database.Querier, contractorID int64, skills []store.Skill) error {
	err := database.InTx(ctx, q, func(tx pgx.Tx) error {
		return setSkills(ctx, tx, contractorID, skills)
	})
	if err != nil {
		return fmt.Errorf("set skills: %w", err)
	}
	return nil
}

// SetLabels upserts company labels in their own transaction.
func (s *ContractorStore) SetLabels(ctx context.Context, q database.Querier, companyID int64, labels []store.Label) error {
	err := database.InTx(ctx, q, func(tx pgx.Tx) error {
		return setLabels(ctx, tx, companyID, labels)
	})
	if err != nil {
		return fmt.Errorf("set labels: %w", err)
	}
	return nil
}

// UpdatePhotoHash records the hash of a freshly written thumbnail.
func (s *ContractorStore) UpdatePhotoHash(
	ctx context.Context,
	q database.Querier,
	companyID, contractorID int64,
	hash string,
) error {
	_, err := q.Exec(ctx,
		`UPDATE contractors SET photo_hash = $1 WHERE company = $2 AND id = $3`,
		hash, companyID, contractorID,
	)
	if err != nil {
		return fmt.Errorf("update photo hash: %w", err)
	}
	return nil
}

func upsertContractor(ctx context.Context, q database.Querier, c store.Contractor) (store.Action, error) {
	extra, err := json.Marshal(nonNilAttrs(c.ExtraAttributes))
	if err != nil {
		return "", fmt.Errorf("encode extra attributes: %w", err)
	}
	var lat, lng *float64
	if c.Location != nil {
		lat, lng = &c.Location.Latitude, &c.Location.Longitude
	}
	query := `
INSERT INTO contractors (
	id, company, first_name, last_name, town, country, latitude, longitude,
	tag_line, primary_description, extra_attributes, labels,
	review_rating, review_duration, last_updated, action
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'created')
ON CONFLICT (id) DO UPDATE SET
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	town = EXCLUDED.town,
	country = EXCLUDED.country,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	tag_line = EXCLUDED.tag_line,
	primary_description = EXCLUDED.primary_description,
	extra_attributes = EXCLUDED.extra_attributes,
	labels = EXCLUDED.labels,
	review_rating = EXCLUDED.review_rating,
	review_duration = EXCLUDED.review_duration,
	last_updated = EXCLUDED.last_updated,
	action = 'updated'
WHERE contractors.company = EXCLUDED.company
RETURNING (xmax = 0) AS inserted`
	var inserted bool
	err = q.QueryRow(ctx, query,
		c.ID, c.CompanyID, c.FirstName, c.LastName, c.Town, c.Country, lat, lng,
		c.TagLine, c.PrimaryDescription, extra, c.Labels,
		c.ReviewRating, c.ReviewDuration, c.LastUpdated,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrOwnershipConflict.WithDetails("you do not have permission to update this contractor")
	}
	if err != nil {
		return "", fmt.Errorf("upsert contractor: %w", err)
	}
	if inserted {
		return store.ActionCreated, nil
	}
	return store.ActionUpdated, nil
}

// Lookup rows are keyed by upstream id when one is supplied, else by name.
// A row committed concurrently after the statement snapshot is picked up by
// the retry in lookupID.
const (
	subjectByExternalIDSQL = `
WITH ins AS (
	INSERT INTO subjects (external_id, name, category) VALUES ($1, $2, $3)
	ON CONFLICT (external_id) DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM subjects WHERE external_id = $1
LIMIT 1`

	subjectByNameSQL = `
WITH ins AS (
	INSERT INTO subjects (name, category) VALUES ($1, $2)
	ON CONFLICT (name, category) WHERE external_id IS NULL DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM subjects WHERE external_id IS NULL AND name = $1 AND category = $2
LIMIT 1`

	qualLevelByExternalIDSQL = `
WITH ins AS (
	INSERT INTO qual_levels (external_id, name, ranking) VALUES ($1, $2, $3)
	ON CONFLICT (external_id) DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM qual_levels WHERE external_id = $1
LIMIT 1`

	qualLevelByNameSQL = `
WITH ins AS (
	INSERT INTO qual_levels (name, ranking) VALUES ($1, $2)
	ON CONFLICT (name) WHERE external_id IS NULL DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM qual_levels WHERE external_id IS NULL AND name = $1
LIMIT 1`
)

func lookupSubject(ctx context.Context, q database.Querier, sk store.Skill) (int64, error) {
	if sk.SubjectID != nil {
		return lookupID(ctx, q, subjectByExternalIDSQL, *sk.SubjectID, sk.Subject, sk.Category)
	}
	return lookupID(ctx, q, subjectByNameSQL, sk.Subject, sk.Category)
}

func lookupQualLevel(ctx context.Context, q database.Querier, sk store.Skill) (int64, error) {
	if sk.QualLevelID != nil {
		return lookupID(ctx, q, qualLevelByExternalIDSQL, *sk.QualLevelID, sk.QualLevel, sk.QualLevelRanking)
	}
	return lookupID(ctx, q, qualLevelByNameSQL, sk.QualLevel, sk.QualLevelRanking)
}

func lookupID(ctx context.Context, q database.Querier, query string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = q.QueryRow(ctx, query, args...).Scan(&id)
	}
	return id, err //nolint:wrapcheck // callers name the lookup
}

type subjectKey struct {
	keyed    bool
	id       int64
	name     string
	category string
}

type qualKey struct {
	keyed bool
	id    int64
	name  string
}

// setSkills must run inside a transaction. Lookup rows are only ever added.
func setSkills(ctx context.Context, q database.Querier, contractorID int64, skills []store.Skill) error {
	if len(skills) == 0 {
		if _, err := q.Exec(ctx, `DELETE FROM contractor_skills WHERE contractor = $1`, contractorID); err != nil {
			return fmt.Errorf("clear skills: %w", err)
		}
		return nil
	}

	subjects := make(map[subjectKey]int64)
	quals := make(map[qualKey]int64)
	desired := make([]reconcile.Edge, 0, len(skills))
	for _, sk := range skills {
		sKey := subjectKey{keyed: sk.SubjectID != nil, id: deref(sk.SubjectID), name: sk.Subject, category: sk.Category}
		subjectID, ok := subjects[sKey]
		if !ok {
			id, err := lookupSubject(ctx, q, sk)
			if err != nil {
				return fmt.Errorf("upsert subject %q: %w", sk.Subject, err)
			}
			subjectID = id
			subjects[sKey] = subjectID
		}
		qKey := qualKey{keyed: sk.QualLevelID != nil, id: deref(sk.QualLevelID), name: sk.QualLevel}
		qualID, ok := quals[qKey]
		if !ok {
			id, err := lookupQualLevel(ctx, q, sk)
			if err != nil {
				return fmt.Errorf("upsert qual level %q: %w", sk.QualLevel, err)
			}
			qualID = id
			quals[qKey] = qualID
		}
		desired = append(desired, reconcile.Edge{SubjectID: subjectID, QualLevelID: qualID})
	}

	existing, err := loadEdges(ctx, q, contractorID)
	if err != nil {
		return err
	}
	plan := reconcile.Diff(existing, desired)
	if len(plan.Delete) > 0 {
		if _, err := q.Exec(ctx, `DELETE FROM contractor_skills WHERE id = ANY($1)`, plan.Delete); err != nil {
			return fmt.Errorf("delete stale skills: %w", err)
		}
	}
	if len(plan.Insert) > 0 {
		subjectIDs := make([]int64, len(plan.Insert))
		qualIDs := make([]int64, len(plan.Insert))
		for i, e := range plan.Insert {
			subjectIDs[i], qualIDs[i] = e.SubjectID, e.QualLevelID
		}
		_, err := q.Exec(ctx, `
INSERT INTO contractor_skills (contractor, subject, qual_level)
SELECT $1, s, l FROM unnest($2::int[], $3::int[]) AS t(s, l)
ON CONFLICT DO NOTHING`, contractorID, subjectIDs, qualIDs)
		if err != nil {
			return fmt.Errorf("insert skills: %w", err)
		}
	}
	return nil
}

func loadEdges(ctx context.Context, q database.Querier, contractorID int64) ([]reconcile.Existing, error) {
	rows, err := q.Query(ctx,
		`SELECT id, subject, qual_level FROM contractor_skills WHERE contractor = $1`, contractorID)
	if err != nil {
		return nil, fmt.Errorf("select skills: %w", err)
	}
	defer rows.Close()
	var out []reconcile.Existing
	for rows.Next() {
		var ex reconcile.Existing
		if err := rows.Scan(&ex.RowID, &ex.Edge.SubjectID, &ex.Edge.QualLevelID); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return out, nil
}

// setLabels must run inside a transaction. Duplicate machine names collapse
// to the last display name, since one statement cannot update a row twice.
func setLabels(ctx context.Context, q database.Querier, companyID int64, labels []store.Label) error {
	if len(labels) == 0 {
		return nil
	}
	index := make(map[string]int, len(labels))
	var machineNames, names []string
	for _, l := range labels {
		if i, ok := index[l.MachineName]; ok {
			names[i] = l.Name
			continue
		}
		index[l.MachineName] = len(machineNames)
		machineNames = append(machineNames, l.MachineName)
		names = append(names, l.Name)
	}
	_, err := q.Exec(ctx, `
INSERT INTO labels (company, machine_name, name)
SELECT $1, m, n FROM unnest($2::text[], $3::text[]) AS t(m, n)
ON CONFLICT (company, machine_name) DO UPDATE SET name = EXCLUDED.name`,
		companyID, machineNames, names)
	if err != nil {
		return fmt.Errorf("upsert labels: %w", err)
	}
	return nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func nonNilAttrs(attrs []store.ExtraAttribute) []store.ExtraAttribute {
	if attrs == nil {
		return []store.ExtraAttribute{}
	}
	return attrs
}
