// Package postgres provides Postgres-backed persistence for tenants,
// contractors, and appointments. Every method takes the database.Querier to
// run on, so callers choose between a request lease, a pool, or a transaction.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/JakeFAU/contractor-socket/internal/database"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, q database.Querier) error {
	if _, err := q.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
