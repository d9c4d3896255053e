package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
)

// TemplateLogRepository appends and reads immutable template audit entries.
// Append is the only mutation exposed; rows are never updated or deleted.
type TemplateLogRepository struct {
	db *database.DB
}

// NewTemplateLogRepository creates a new TemplateLogRepository.
func NewTemplateLogRepository(db *database.DB) *TemplateLogRepository {
	return &TemplateLogRepository{db: db}
}

func (r *TemplateLogRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// Append inserts one audit entry.
func (r *TemplateLogRepository) Append(ctx context.Context, q database.Querier, entry *TemplateLogEntry) error {
	query := `
		INSERT INTO template_logs
		    (template_id, action, performed_by,
		     previous_status, new_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.querier(q).QueryRow(ctx, query,
		entry.TemplateID,
		entry.Action,
		entry.PerformedBy,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Notes,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append template log entry")
	}
	return nil
}

// GetByTemplateID returns the full audit trail for a template oldest-first.
func (r *TemplateLogRepository) GetByTemplateID(ctx context.Context, templateID string) ([]*TemplateLogEntry, error) {
	query := `
		SELECT id, template_id, action, performed_by,
		       previous_status, new_status, notes, created_at
		FROM template_logs
		WHERE template_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get template logs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *TemplateLogRepository) scanRows(rows pgx.Rows) ([]*TemplateLogEntry, error) {
	var entries []*TemplateLogEntry
	for rows.Next() {
		e := &TemplateLogEntry{}
		err := rows.Scan(
			&e.ID,
			&e.TemplateID,
			&e.Action,
			&e.PerformedBy,
			&e.PreviousStatus,
			&e.NewStatus,
			&e.Notes,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan template log entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
