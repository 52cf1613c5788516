package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode (requires Docker)")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env:          map[string]string{"POSTGRES_PASSWORD": "postgres"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, database.Config{
		DSN: fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "schema must apply twice")
	return pool
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func skillID(v int64) *int64 { return &v }

func TestSkillLookupsAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	company, err := NewCompanyStore().Create(ctx, pool, store.Company{
		Name:       "Integration Tutors",
		PublicKey:  "pubintegration0001",
		PrivateKey: "privintegration000000001",
	})
	require.NoError(t, err)
	contractors := newContractorStore(nil)

	set := func(t *testing.T, id int64, skills ...store.Skill) {
		t.Helper()
		_, err := contractors.Set(ctx, pool, company, store.ContractorPayload{
			ID:        id,
			FirstName: "Tutor",
			Skills:    skills,
		}, SetOptions{})
		require.NoError(t, err)
	}
	subjectsOf := func(t *testing.T, id int64) []string {
		t.Helper()
		d, err := contractors.GetContractor(ctx, pool, company.ID, id)
		require.NoError(t, err)
		var out []string
		for _, g := range d.Skills {
			out = append(out, g.Category+"/"+g.Subject)
		}
		return out
	}

	t.Run("name keyed row after upstream keyed row", func(t *testing.T) {
		set(t, 101, store.Skill{
			SubjectID: skillID(1), Subject: "Algebra", Category: "Maths",
			QualLevelID: skillID(1), QualLevel: "A Level",
		})
		set(t, 102, store.Skill{Subject: "Physics", Category: "Science", QualLevel: "GCSE"})

		require.Equal(t, []string{"Maths/Algebra"}, subjectsOf(t, 101))
		require.Equal(t, []string{"Science/Physics"}, subjectsOf(t, 102))
	})

	t.Run("upstream id never resolves to a local row", func(t *testing.T) {
		set(t, 103, store.Skill{Subject: "Chemistry", Category: "Science", QualLevel: "GCSE"})
		var localID int64
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT id FROM subjects WHERE name = 'Chemistry' AND external_id IS NULL`).Scan(&localID))

		set(t, 104, store.Skill{
			SubjectID: skillID(localID), Subject: "Geometry", Category: "Maths",
			QualLevel: "GCSE",
		})
		require.Equal(t, []string{"Maths/Geometry"}, subjectsOf(t, 104))
		require.Equal(t, []string{"Science/Chemistry"}, subjectsOf(t, 103))
	})

	t.Run("same upstream id shares one row", func(t *testing.T) {
		set(t, 105, store.Skill{
			SubjectID: skillID(1), Subject: "Algebra", Category: "Maths",
			QualLevelID: skillID(1), QualLevel: "A Level",
		})
		require.Equal(t, 1, countRows(t, pool, `SELECT count(*) FROM subjects WHERE external_id = 1`))
		require.Equal(t, 1, countRows(t, pool, `SELECT count(*) FROM qual_levels WHERE external_id = 1`))
		require.Equal(t, 2, countRows(t, pool,
			`SELECT count(DISTINCT contractor) FROM contractor_skills cs
			 JOIN subjects s ON s.id = cs.subject WHERE s.external_id = 1`))
	})

	t.Run("repeat apply adds no lookup rows", func(t *testing.T) {
		skills := []store.Skill{
			{Subject: "Biology", Category: "Science", QualLevel: "GCSE"},
			{Subject: "Biology", Category: "Science", QualLevel: "A Level"},
			{Subject: "Biology", Category: "Science", QualLevel: "GCSE"},
		}
		set(t, 106, skills...)
		subjects := countRows(t, pool, `SELECT count(*) FROM subjects`)
		quals := countRows(t, pool, `SELECT count(*) FROM qual_levels`)

		set(t, 106, skills...)
		require.Equal(t, subjects, countRows(t, pool, `SELECT count(*) FROM subjects`))
		require.Equal(t, quals, countRows(t, pool, `SELECT count(*) FROM qual_levels`))
		require.Equal(t, 2, countRows(t, pool, `SELECT count(*) FROM contractor_skills WHERE contractor = $1`, 106))
	})

	t.Run("clearing skills keeps lookup rows", func(t *testing.T) {
		subjects := countRows(t, pool, `SELECT count(*) FROM subjects`)
		quals := countRows(t, pool, `SELECT count(*) FROM qual_levels`)

		require.NoError(t, contractors.SetSkills(ctx, pool, 106, []store.Skill{}))
		require.Equal(t, 0, countRows(t, pool, `SELECT count(*) FROM contractor_skills WHERE contractor = $1`, 106))
		require.Equal(t, subjects, countRows(t, pool, `SELECT count(*) FROM subjects`))
		require.Equal(t, quals, countRows(t, pool, `SELECT count(*) FROM qual_levels`))
	})
}
