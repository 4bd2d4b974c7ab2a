package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xtrace/xtrace/internal/domain"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
)

// ProjectRepository backs GET /api/public/projects (spec.md §6) and the
// key-pair lookup used by the multi-project supplement's auth boundary
// (SPEC_FULL.md §3). Unlike the rest of this package it scans into
// structs with sqlx rather than hand-rolled pgx Scan calls
// (SPEC_FULL.md §2) — the same CRUD-repository shape the teacher uses
// elsewhere, over a different driver.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

type projectRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	Metadata      []byte    `db:"metadata"`
	PublicKeyHash string    `db:"public_key_hash"`
	SecretKeyHash string    `db:"secret_key_hash"`
}

func (row projectRow) toDomain() (*domain.Project, error) {
	p := &domain.Project{
		ID:            row.ID,
		Name:          row.Name,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		PublicKeyHash: row.PublicKeyHash,
		SecretKeyHash: row.SecretKeyHash,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode project metadata: %w", err)
		}
	}
	return p, nil
}

// GetByID fetches a project by its synthetic id (spec.md §6).
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	var row projectRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, name, created_at, updated_at, metadata, public_key_hash, secret_key_hash
		FROM projects
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("project")
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return row.toDomain()
}

// ListKeyed returns every project that carries a key pair — i.e. every
// project created through the multi-project supplement (SPEC_FULL.md
// §3), which the auth boundary bcrypt-compares the request's
// public/secret key against. The default project (no stored key pair)
// is never returned here; it authenticates against API_BEARER_TOKEN.
func (r *ProjectRepository) ListKeyed(ctx context.Context) ([]domain.Project, error) {
	var rows []projectRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, name, created_at, updated_at, metadata, public_key_hash, secret_key_hash
		FROM projects
		WHERE public_key_hash <> ''
	`); err != nil {
		return nil, fmt.Errorf("list keyed projects: %w", err)
	}
	out := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// Create inserts a new project (SPEC_FULL.md §3 multi-project supplement).
func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("encode project metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, created_at, updated_at, metadata, public_key_hash, secret_key_hash)
		VALUES ($1, $2, NOW(), NOW(), $3, $4, $5)
	`, p.ID, p.Name, metadata, p.PublicKeyHash, p.SecretKeyHash)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// EnsureDefault makes sure the configured default project row exists,
// so GET /api/public/projects always has something to return even
// before any trace has been ingested.
func (r *ProjectRepository) EnsureDefault(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, created_at, updated_at, metadata, public_key_hash, secret_key_hash)
		VALUES ($1, $1, NOW(), NOW(), '{}', '', '')
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("ensure default project: %w", err)
	}
	return nil
}
