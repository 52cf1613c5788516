package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

const companyColumns = `id, public_key, private_key, name, name_display, domains, options`

// CompanyStore persists tenants.
type CompanyStore struct{}

// NewCompanyStore creates a CompanyStore.
func NewCompanyStore() *CompanyStore {
	return &CompanyStore{}
}

// Create inserts a company. A duplicate public key is a ResourceConflict.
func (s *CompanyStore) Create(ctx context.Context, q database.Querier, c store.Company) (store.Company, error) {
	options, err := encodeOptions(c.Options)
	if err != nil {
		return store.Company{}, err
	}
	if c.NameDisplay == "" {
		c.NameDisplay = store.NameDisplayFirstNameInitial
	}
	query := `
INSERT INTO companies (public_key, private_key, name, name_display, domains, options)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	err = q.QueryRow(ctx, query, c.PublicKey, c.PrivateKey, c.Name, string(c.NameDisplay), c.Domains, options).
		Scan(&c.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return store.Company{}, apperrors.ErrResourceConflict.WithDetails("company with this public key already exists")
		}
		return store.Company{}, fmt.Errorf("insert company: %w", err)
	}
	return c, nil
}

// GetByPublicKey loads a company by its public key.
func (s *CompanyStore) GetByPublicKey(ctx context.Context, q database.Querier, publicKey string) (store.Company, error) {
	row := q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE public_key = $1`, publicKey)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Company{}, apperrors.ErrTenantNotFound.WithDetails(fmt.Sprintf("company not found: %s", publicKey))
	}
	if err != nil {
		return store.Company{}, fmt.Errorf("select company: %w", err)
	}
	return c, nil
}

// Get loads a company by id.
func (s *CompanyStore) Get(ctx context.Context, q database.Querier, id int64) (store.Company, error) {
	row := q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Company{}, apperrors.ErrTenantNotFound.WithDetails(fmt.Sprintf("company not found: %d", id))
	}
	if err != nil {
		return store.Company{}, fmt.Errorf("select company: %w", err)
	}
	return c, nil
}

// List returns every company ordered by id.
func (s *CompanyStore) List(ctx context.Context, q database.Querier) ([]store.Company, error) {
	rows, err := q.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()
	var out []store.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

// Update applies the fields present in upd. Options are merged key by key.
func (s *CompanyStore) Update(
	ctx context.Context,
	q database.Querier,
	id int64,
	upd store.CompanyUpdate,
) (store.Company, error) {
	var options []byte
	if upd.Options != nil {
		var err error
		if options, err = encodeOptions(upd.Options); err != nil {
			return store.Company{}, err
		}
	}
	var nameDisplay *string
	if upd.NameDisplay != nil {
		v := string(*upd.NameDisplay)
		nameDisplay = &v
	}
	query := `
UPDATE companies SET
	name = COALESCE($2, name),
	name_display = COALESCE($3, name_display),
	domains = CASE WHEN $4::boolean THEN $5::varchar[] ELSE domains END,
	options = COALESCE(options || $6::jsonb, options)
WHERE id = $1
RETURNING ` + companyColumns
	row := q.QueryRow(ctx, query, id, upd.Name, nameDisplay, upd.Domains.Set, upd.Domains.Values, options)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Company{}, apperrors.ErrTenantNotFound
	}
	if err != nil {
		return store.Company{}, fmt.Errorf("update company: %w", err)
	}
	return c, nil
}

func scanCompany(row pgx.Row) (store.Company, error) {
	var (
		c           store.Company
		nameDisplay string
		options     []byte
	)
	if err := row.Scan(&c.ID, &c.PublicKey, &c.PrivateKey, &c.Name, &nameDisplay, &c.Domains, &options); err != nil {
		return store.Company{}, err //nolint:wrapcheck // callers wrap with query context
	}
	c.NameDisplay = store.NameDisplay(nameDisplay)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &c.Options); err != nil {
			return store.Company{}, fmt.Errorf("decode company options: %w", err)
		}
	}
	return c, nil
}

func encodeOptions(options map[string]any) ([]byte, error) {
	if options == nil {
		options = map[string]any{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode company options: %w", err)
	}
	return raw, nil
}
