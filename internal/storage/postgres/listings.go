package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// distanceSQL is the haversine distance in metres from ($lat, $lng).
const distanceSQL = `6371000 * 2 * asin(sqrt(
	power(sin(radians(c.latitude - %[1]s) / 2), 2) +
	cos(radians(%[1]s)) * cos(radians(c.latitude)) *
	power(sin(radians(c.longitude - %[2]s) / 2), 2)))`

type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

// ListContractors returns a page of contractors and the total matching count.
func (s *ContractorStore) ListContractors(
	ctx context.Context,
	q database.Querier,
	companyID int64,
	f store.ContractorFilter,
) ([]store.ContractorSummary, int64, error) {
	var a argList
	where := []string{"c.company = " + a.add(companyID)}
	if f.SubjectID != nil || f.QualLevelID != nil {
		cond := "EXISTS (SELECT 1 FROM contractor_skills cs WHERE cs.contractor = c.id"
		if f.SubjectID != nil {
			cond += " AND cs.subject = " + a.add(*f.SubjectID)
		}
		if f.QualLevelID != nil {
			cond += " AND cs.qual_level = " + a.add(*f.QualLevelID)
		}
		where = append(where, cond+")")
	}
	if f.Label != "" {
		where = append(where, a.add(f.Label)+" = ANY(c.labels)")
	}

	distance := "NULL::double precision"
	order := "review_rating DESC NULLS LAST, last_updated DESC, id"
	outerWhere := ""
	if f.Near != nil {
		distance = fmt.Sprintf(distanceSQL, a.add(f.Near.Latitude), a.add(f.Near.Longitude))
		where = append(where, "c.latitude IS NOT NULL", "c.longitude IS NOT NULL")
		order = "distance, id"
		if f.MaxDistance > 0 {
			outerWhere = "WHERE distance <= " + a.add(f.MaxDistance)
		}
	}

	page, size := pageBounds(f.Page, f.PageSize)
	query := fmt.Sprintf(`
SELECT id, first_name, last_name, tag_line, primary_description, town, country,
	photo_hash, review_rating, review_duration, labels, distance, count(*) OVER ()
FROM (
	SELECT c.id, c.first_name, c.last_name, c.tag_line, c.primary_description, c.town,
		c.country, c.photo_hash, c.review_rating, c.review_duration, c.labels,
		c.last_updated, %s AS distance
	FROM contractors c
	WHERE %s
) q
%s
ORDER BY %s
LIMIT %s OFFSET %s`,
		distance, strings.Join(where, " AND "), outerWhere, order,
		a.add(size), a.add((page-1)*size))

	rows, err := q.Query(ctx, query, a.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contractors: %w", err)
	}
	defer rows.Close()
	var (
		out   []store.ContractorSummary
		total int64
	)
	for rows.Next() {
		var c store.ContractorSummary
		if err := rows.Scan(
			&c.ID, &c.FirstName, &c.LastName, &c.TagLine, &c.PrimaryDescription, &c.Town, &c.Country,
			&c.PhotoHash, &c.ReviewRating, &c.ReviewDuration, &c.Labels, &c.Distance, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan contractor: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate contractors: %w", err)
	}
	return out, total, nil
}

// GetContractor loads one contractor with skills grouped by subject.
func (s *ContractorStore) GetContractor(
	ctx context.Context,
	q database.Querier,
	companyID, contractorID int64,
) (store.ContractorDetail, error) {
	var (
		d        store.ContractorDetail
		lat, lng *float64
		extra    []byte
	)
	err := q.QueryRow(ctx, `
SELECT id, company, first_name, last_name, town, country, latitude, longitude,
	tag_line, primary_description, extra_attributes, labels,
	review_rating, review_duration, photo_hash, last_updated
FROM contractors
WHERE company = $1 AND id = $2`, companyID, contractorID).Scan(
		&d.ID, &d.CompanyID, &d.FirstName, &d.LastName, &d.Town, &d.Country, &lat, &lng,
		&d.TagLine, &d.PrimaryDescription, &extra, &d.Labels,
		&d.ReviewRating, &d.ReviewDuration, &d.PhotoHash, &d.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ContractorDetail{}, apperrors.ErrNotFound.WithDetails("contractor not found")
	}
	if err != nil {
		return store.ContractorDetail{}, fmt.Errorf("select contractor: %w", err)
	}
	if lat != nil && lng != nil {
		d.Location = &store.Location{Latitude: *lat, Longitude: *lng}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &d.ExtraAttributes); err != nil {
			return store.ContractorDetail{}, fmt.Errorf("decode extra attributes: %w", err)
		}
	}

	rows, err := q.Query(ctx, `
SELECT s.name, s.category, l.name
FROM contractor_skills cs
JOIN subjects s ON s.id = cs.subject
JOIN qual_levels l ON l.id = cs.qual_level
WHERE cs.contractor = $1
ORDER BY s.category, s.name, l.ranking, l.name`, contractorID)
	if err != nil {
		return store.ContractorDetail{}, fmt.Errorf("select contractor skills: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var subject, category, qual string
		if err := rows.Scan(&subject, &category, &qual); err != nil {
			return store.ContractorDetail{}, fmt.Errorf("scan contractor skill: %w", err)
		}
		n := len(d.Skills)
		if n > 0 && d.Skills[n-1].Subject == subject && d.Skills[n-1].Category == category {
			d.Skills[n-1].QualLevels = append(d.Skills[n-1].QualLevels, qual)
			continue
		}
		d.Skills = append(d.Skills, store.SkillGroup{Subject: subject, Category: category, QualLevels: []string{qual}})
	}
	if err := rows.Err(); err != nil {
		return store.ContractorDetail{}, fmt.Errorf("iterate contractor skills: %w", err)
	}
	return d, nil
}

// Subjects lists subjects taught by the company's contractors.
func (s *ContractorStore) Subjects(ctx context.Context, q database.Querier, companyID int64) ([]store.SubjectCount, error) {
	rows, err := q.Query(ctx, `
SELECT s.id, s.name, s.category, count(DISTINCT cs.contractor)
FROM subjects s
JOIN contractor_skills cs ON cs.subject = s.id
JOIN contractors c ON c.id = cs.contractor
WHERE c.company = $1
GROUP BY s.id
ORDER BY s.category, s.name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	var out []store.SubjectCount
	for rows.Next() {
		var sc store.SubjectCount
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Category, &sc.Contractors); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

// QualLevels lists qualification levels held by the company's contractors.
func (s *ContractorStore) QualLevels(ctx context.Context, q database.Querier, companyID int64) ([]store.QualLevelCount, error) {
	rows, err := q.Query(ctx, `
SELECT l.id, l.name, l.ranking, count(DISTINCT cs.contractor)
FROM qual_levels l
JOIN contractor_skills cs ON cs.qual_level = l.id
JOIN contractors c ON c.id = cs.contractor
WHERE c.company = $1
GROUP BY l.id
ORDER BY l.ranking, l.name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list qual levels: %w", err)
	}
	defer rows.Close()
	var out []store.QualLevelCount
	for rows.Next() {
		var qc store.QualLevelCount
		if err := rows.Scan(&qc.ID, &qc.Name, &qc.Ranking, &qc.Contractors); err != nil {
			return nil, fmt.Errorf("scan qual level: %w", err)
		}
		out = append(out, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qual levels: %w", err)
	}
	return out, nil
}

// Labels lists the company's labels.
func (s *ContractorStore) Labels(ctx context.Context, q database.Querier, companyID int64) ([]store.Label, error) {
	rows, err := q.Query(ctx,
		`SELECT machine_name, name FROM labels WHERE company = $1 ORDER BY name, machine_name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	var out []store.Label
	for rows.Next() {
		var l store.Label
		if err := rows.Scan(&l.MachineName, &l.Name); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return out, nil
}

const (
	maxPageSize = 100
	maxPage     = 1 << 20
)

// pageBounds clamps paging input so the offset stays small and positive.
func pageBounds(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
