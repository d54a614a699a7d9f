package postgres

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/models"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "x"))
	assert.ErrorIs(t, translate(pgx.ErrNoRows, "x"), storage.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: uniqueViolation}, "x"), storage.ErrConflict)

	other := errors.New("boom")
	err := translate(other, "mapping m1")
	assert.ErrorIs(t, err, other)
	assert.Contains(t, err.Error(), "mapping m1")
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(embedMigrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(embedMigrations, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "-- +goose Down")
	assert.Contains(t, string(body), "route_key")
}

// TestStoreIntegration runs against a real database when DEPLOYER_TEST_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("DEPLOYER_TEST_DSN")
	if dsn == "" {
		t.Skip("DEPLOYER_TEST_DSN not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, dsn, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrator := NewMigrator(pool, logging.Discard())
	require.NoError(t, migrator.Up(ctx))
	t.Cleanup(func() { _ = migrator.Down(context.Background(), 0) })

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Applied)

	s := New(pool)

	od := &models.OrganizationDomain{OrganizationID: "org", Domain: "integration.example.com", VerificationToken: "tok"}
	require.NoError(t, s.CreateOrganizationDomain(ctx, od))
	assert.ErrorIs(t, s.CreateOrganizationDomain(ctx, &models.OrganizationDomain{Domain: od.Domain, VerificationToken: "x"}), storage.ErrConflict)

	pending, err := s.ListOrganizationDomains(ctx, models.VerificationPending)
	require.NoError(t, err)
	assert.NotEmpty(t, pending)

	pd := &models.ProjectDomain{ProjectID: "p1", OrganizationDomainID: od.ID, Domain: od.Domain}
	require.NoError(t, s.CreateProjectDomain(ctx, pd))

	m := &models.ServiceDomainMapping{ServiceID: "svc", ProjectDomainID: pd.ID, Subdomain: "api", IsPrimary: true}
	require.NoError(t, s.CreateMapping(ctx, m))
	dup := &models.ServiceDomainMapping{ServiceID: "svc2", ProjectDomainID: pd.ID, Subdomain: "API", BasePath: "/"}
	assert.ErrorIs(t, s.CreateMapping(ctx, dup), storage.ErrConflict)

	second := &models.ServiceDomainMapping{ServiceID: "svc", ProjectDomainID: pd.ID, Subdomain: "www", IsPrimary: true}
	require.NoError(t, s.CreateMapping(ctx, second))
	first, err := s.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, first.IsPrimary)

	require.NoError(t, s.DeleteProjectDomain(ctx, pd.ID))
	_, err = s.GetMapping(ctx, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.DeleteOrganizationDomain(ctx, od.ID))
}
