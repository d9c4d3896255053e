package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
)

// ApprovalRepository manages approval records and their stages. Approval +
// stage creation is always done together in the caller's transaction.
//
// Methods accept a database.Querier so they can run inside a caller-owned
// transaction; a nil Querier falls back to the pool.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// Create inserts an approval and all of its stages. The stages' warn/escalate
// timestamps must already be computed; they are written once and never
// recomputed afterwards.
func (r *ApprovalRepository) Create(ctx context.Context, q database.Querier, approval *Approval, stages []*ApprovalStage) error {
	q = r.querier(q)

	approvalQuery := `
		INSERT INTO approvals
		    (template_id, status, priority, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRow(ctx, approvalQuery,
		approval.TemplateID,
		approval.Status,
		approval.Priority,
		approval.CreatedBy,
	).Scan(&approval.ID, &approval.CreatedAt, &approval.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}

	stageQuery := `
		INSERT INTO approval_stages
		    (approval_id, status, level, role_id, approver, escalators,
		     time_limit, warning_offset, warn_at, escalate_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	for _, stage := range stages {
		stage.ApprovalID = approval.ID

		err := q.QueryRow(ctx, stageQuery,
			stage.ApprovalID,
			stage.Status,
			stage.Level,
			stage.RoleID,
			stage.Approver,
			stage.Escalators,
			stage.TimeLimit,
			stage.WarningOffset,
			stage.WarnAt,
			stage.EscalateAt,
			stage.UpdatedBy,
		).Scan(&stage.ID, &stage.CreatedAt, &stage.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval stage")
		}
	}

	return nil
}

// GetActiveByTemplateID returns the ACTIVE approval for a template, or nil
// when none exists. The partial unique index on (template_id) WHERE status =
// 'ACTIVE' guarantees at most one row.
func (r *ApprovalRepository) GetActiveByTemplateID(ctx context.Context, q database.Querier, templateID string) (*Approval, error) {
	query := `
		SELECT id, template_id, status, priority, created_by,
		       created_at, updated_at
		FROM approvals
		WHERE template_id = $1 AND status = $2
	`

	approval, err := r.scanApproval(r.querier(q).QueryRow(ctx, query, templateID, ApprovalStatusActive))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return approval, err
}

// LockActiveByTemplateID is GetActiveByTemplateID with a row lock, so a
// read-decide-write sequence on the current stage is atomic across
// concurrent approve/reject/submit calls.
func (r *ApprovalRepository) LockActiveByTemplateID(ctx context.Context, q database.Querier, templateID string) (*Approval, error) {
	query := `
		SELECT id, template_id, status, priority, created_by,
		       created_at, updated_at
		FROM approvals
		WHERE template_id = $1 AND status = $2
		FOR UPDATE
	`

	approval, err := r.scanApproval(r.querier(q).QueryRow(ctx, query, templateID, ApprovalStatusActive))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return approval, err
}

// UpdateStatus terminates an approval. The update is conditional on the
// approval still being ACTIVE so terminal states are never overwritten.
func (r *ApprovalRepository) UpdateStatus(ctx context.Context, q database.Querier, id, status string) error {
	query := `
		UPDATE approvals
		SET status     = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $3
		RETURNING id
	`

	var returnedID string
	err := r.querier(q).QueryRow(ctx, query, id, status, ApprovalStatusActive).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "approval is no longer active")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.TemplateID,
		&a.Status,
		&a.Priority,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
