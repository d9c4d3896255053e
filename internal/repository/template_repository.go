package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
)

// TemplateRepository is the workflow's view of the template library. The
// library owns template CRUD; this repository only reads templates and
// transitions their status as an approval-workflow side effect.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// GetByID retrieves a template by its primary key.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*Template, error) {
	query := `
		SELECT id, channel_id, name, status, created_by,
		       created_at, updated_at
		FROM templates
		WHERE id = $1
	`

	tmpl, err := r.scanTemplate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("template", id)
	}
	return tmpl, err
}

// LockByID retrieves a template with a row lock so its status check and
// transition happen atomically within the caller's transaction.
func (r *TemplateRepository) LockByID(ctx context.Context, q database.Querier, id string) (*Template, error) {
	query := `
		SELECT id, channel_id, name, status, created_by,
		       created_at, updated_at
		FROM templates
		WHERE id = $1
		FOR UPDATE
	`

	tmpl, err := r.scanTemplate(r.querier(q).QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("template", id)
	}
	return tmpl, err
}

// UpdateStatus transitions the template's externally-visible status.
func (r *TemplateRepository) UpdateStatus(ctx context.Context, q database.Querier, id, status string) error {
	query := `
		UPDATE templates
		SET status     = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.querier(q).QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("template", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update template status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*Template, error) {
	t := &Template{}
	err := row.Scan(
		&t.ID,
		&t.ChannelID,
		&t.Name,
		&t.Status,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
