// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/models"
)

const uniqueViolation = "23505"

// Store is a storage.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Connect opens a pool on dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if poolConfig.MaxConns < 4 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger != nil {
		logger.Info("connected to database", "maxConns", poolConfig.MaxConns)
	}
	return pool, nil
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// translate maps driver errors onto the storage sentinels.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, storage.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func affected(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

const mappingColumns = `id, service_id, project_domain_id, subdomain, base_path, is_primary,
	ssl_enabled, ssl_provider, domain, created_at`

func scanMapping(row pgx.Row) (models.ServiceDomainMapping, error) {
	var m models.ServiceDomainMapping
	err := row.Scan(&m.ID, &m.ServiceID, &m.ProjectDomainID, &m.Subdomain, &m.BasePath, &m.IsPrimary,
		&m.SSLEnabled, &m.SSLProvider, &m.Domain, &m.CreatedAt)
	return m, err
}

func (s *Store) CreateMapping(ctx context.Context, m *models.ServiceDomainMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := demoteOtherPrimaries(ctx, tx, *m); err != nil {
			return err
		}
		const query = `INSERT INTO service_domain_mappings
			(id, service_id, project_domain_id, subdomain, base_path, route_key, is_primary,
			 ssl_enabled, ssl_provider, domain, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := tx.Exec(ctx, query, m.ID, m.ServiceID, m.ProjectDomainID, m.Subdomain, m.BasePath,
			storage.RouteKey(*m), m.IsPrimary, m.SSLEnabled, m.SSLProvider, m.Domain, m.CreatedAt)
		return translate(err, "mapping "+m.ID)
	})
}

func (s *Store) GetMapping(ctx context.Context, id string) (*models.ServiceDomainMapping, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM service_domain_mappings WHERE id = $1`, id)
	m, err := scanMapping(row)
	if err != nil {
		return nil, translate(err, "mapping "+id)
	}
	return &m, nil
}

func (s *Store) UpdateMapping(ctx context.Context, m *models.ServiceDomainMapping) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := demoteOtherPrimaries(ctx, tx, *m); err != nil {
			return err
		}
		const query = `UPDATE service_domain_mappings
			SET service_id = $2, project_domain_id = $3, subdomain = $4, base_path = $5, route_key = $6,
			    is_primary = $7, ssl_enabled = $8, ssl_provider = $9, domain = $10
			WHERE id = $1`
		tag, err := tx.Exec(ctx, query, m.ID, m.ServiceID, m.ProjectDomainID, m.Subdomain, m.BasePath,
			storage.RouteKey(*m), m.IsPrimary, m.SSLEnabled, m.SSLProvider, m.Domain)
		if err != nil {
			return translate(err, "mapping "+m.ID)
		}
		return affected(tag, "mapping "+m.ID)
	})
}

func demoteOtherPrimaries(ctx context.Context, tx pgx.Tx, m models.ServiceDomainMapping) error {
	if !m.IsPrimary {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE service_domain_mappings SET is_primary = false WHERE service_id = $1 AND id <> $2 AND is_primary`,
		m.ServiceID, m.ID)
	if err != nil {
		return fmt.Errorf("demote primary mappings of %s: %w", m.ServiceID, err)
	}
	return nil
}

func (s *Store) DeleteMapping(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM service_domain_mappings WHERE id = $1`, id)
	if err != nil {
		return translate(err, "mapping "+id)
	}
	return affected(tag, "mapping "+id)
}

func (s *Store) ListMappingsByProjectDomain(ctx context.Context, projectDomainID string) ([]models.ServiceDomainMapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM service_domain_mappings
		WHERE project_domain_id = $1 ORDER BY created_at, id`, projectDomainID)
}

func (s *Store) ListMappingsByService(ctx context.Context, serviceID string) ([]models.ServiceDomainMapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM service_domain_mappings
		WHERE service_id = $1 ORDER BY created_at, id`, serviceID)
}

func (s *Store) listMappings(ctx context.Context, query string, arg string) ([]models.ServiceDomainMapping, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	out := []models.ServiceDomainMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const orgColumns = `id, organization_id, domain, verification_status, verification_method,
	verification_token, verified_at, last_checked_at, created_at`

func scanOrganizationDomain(row pgx.Row) (models.OrganizationDomain, error) {
	var d models.OrganizationDomain
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Domain, &d.VerificationStatus, &d.VerificationMethod,
		&d.VerificationToken, &d.VerifiedAt, &d.LastCheckedAt, &d.CreatedAt)
	return d, err
}

func (s *Store) CreateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.VerificationStatus == "" {
		d.VerificationStatus = models.VerificationPending
	}
	if d.VerificationMethod == "" {
		d.VerificationMethod = models.VerificationTXT
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO organization_domains (` + orgColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query, d.ID, d.OrganizationID, d.Domain, d.VerificationStatus, d.VerificationMethod,
		d.VerificationToken, d.VerifiedAt, d.LastCheckedAt, d.CreatedAt)
	return translate(err, "organization domain "+d.Domain)
}

func (s *Store) GetOrganizationDomain(ctx context.Context, id string) (*models.OrganizationDomain, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organization_domains WHERE id = $1`, id)
	d, err := scanOrganizationDomain(row)
	if err != nil {
		return nil, translate(err, "organization domain "+id)
	}
	return &d, nil
}

func (s *Store) UpdateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error {
	const query = `UPDATE organization_domains
		SET verification_status = $2, verification_method = $3, verification_token = $4,
		    verified_at = $5, last_checked_at = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, d.ID, d.VerificationStatus, d.VerificationMethod, d.VerificationToken,
		d.VerifiedAt, d.LastCheckedAt)
	if err != nil {
		return translate(err, "organization domain "+d.ID)
	}
	return affected(tag, "organization domain "+d.ID)
}

func (s *Store) DeleteOrganizationDomain(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organization_domains WHERE id = $1`, id)
	if err != nil {
		return translate(err, "organization domain "+id)
	}
	return affected(tag, "organization domain "+id)
}

func (s *Store) ListOrganizationDomains(ctx context.Context, status models.VerificationStatus) ([]models.OrganizationDomain, error) {
	query := `SELECT ` + orgColumns + ` FROM organization_domains`
	var args []any
	if status != "" {
		query += ` WHERE verification_status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY domain`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list organization domains: %w", err)
	}
	defer rows.Close()

	out := []models.OrganizationDomain{}
	for rows.Next() {
		d, err := scanOrganizationDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateProjectDomain(ctx context.Context, d *models.ProjectDomain) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO project_domains (id, project_id, organization_domain_id, domain, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, d.ID, d.ProjectID, d.OrganizationDomainID, d.Domain, d.CreatedAt)
	return translate(err, "project domain "+d.ID)
}

func (s *Store) GetProjectDomain(ctx context.Context, id string) (*models.ProjectDomain, error) {
	var d models.ProjectDomain
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, organization_domain_id, domain, created_at FROM project_domains WHERE id = $1`, id).
		Scan(&d.ID, &d.ProjectID, &d.OrganizationDomainID, &d.Domain, &d.CreatedAt)
	if err != nil {
		return nil, translate(err, "project domain "+id)
	}
	return &d, nil
}

func (s *Store) DeleteProjectDomain(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM project_domains WHERE id = $1`, id)
	if err != nil {
		return translate(err, "project domain "+id)
	}
	return affected(tag, "project domain "+id)
}

func (s *Store) ListProjectDomains(ctx context.Context, projectID string) ([]models.ProjectDomain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, organization_domain_id, domain, created_at FROM project_domains
		 WHERE project_id = $1 ORDER BY domain`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project domains: %w", err)
	}
	defer rows.Close()

	out := []models.ProjectDomain{}
	for rows.Next() {
		var d models.ProjectDomain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.OrganizationDomainID, &d.Domain, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
