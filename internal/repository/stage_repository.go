package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
)

const stageColumns = `
	id, approval_id, status, level, role_id, approver, escalators,
	time_limit, warning_offset, warn_at, escalate_at, is_escalated,
	updated_by, created_at, updated_at`

// StageRepository handles reads and updates on individual approval stages.
// Stage creation is handled by ApprovalRepository.Create (transactionally).
type StageRepository struct {
	db *database.DB
}

// NewStageRepository creates a new StageRepository.
func NewStageRepository(db *database.DB) *StageRepository {
	return &StageRepository{db: db}
}

func (r *StageRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// GetByApprovalID returns all stages of an approval ordered by level.
func (r *StageRepository) GetByApprovalID(ctx context.Context, q database.Querier, approvalID string) ([]*ApprovalStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM approval_stages
		WHERE approval_id = $1
		ORDER BY level ASC
	`

	rows, err := r.querier(q).Query(ctx, query, approvalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval stages")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetActiveByApprovalID returns the ACTIVE stages of an approval ordered by
// level. The current stage is the first element (minimum level).
func (r *StageRepository) GetActiveByApprovalID(ctx context.Context, q database.Querier, approvalID string) ([]*ApprovalStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM approval_stages
		WHERE approval_id = $1
		  AND status = $2
		ORDER BY level ASC
	`

	rows, err := r.querier(q).Query(ctx, query, approvalID, StageStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active approval stages")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// UpdateStatus records the outcome of a stage action. The update is
// conditional on the stage still being ACTIVE, so two concurrent actions
// against the same stage cannot both succeed.
func (r *StageRepository) UpdateStatus(ctx context.Context, q database.Querier, id, status, updatedBy string) error {
	query := `
		UPDATE approval_stages
		SET status     = $2,
		    updated_by = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $4
		RETURNING id
	`

	var returnedID string
	err := r.querier(q).QueryRow(ctx, query, id, status, updatedBy, StageStatusActive).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "stage is no longer active")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update stage status")
	}
	return nil
}

// ListDueForEscalation returns active, not-yet-escalated stages whose
// deadline has passed, oldest deadline first, joined with the owning
// approval for the template id. The filter is the idempotence guard: stages
// flagged by a previous sweep never match again. The approval must itself
// still be ACTIVE — a rejection terminates the chain without touching the
// remaining stage rows, and those must never be escalated.
func (r *StageRepository) ListDueForEscalation(ctx context.Context, limit int) ([]*EscalatableStage, error) {
	query := `
		SELECT s.id, s.approval_id, s.status, s.level, s.role_id, s.approver,
		       s.escalators, s.time_limit, s.warning_offset,
		       s.warn_at, s.escalate_at, s.is_escalated,
		       s.updated_by, s.created_at, s.updated_at,
		       a.template_id
		FROM approval_stages s
		JOIN approvals a ON a.id = s.approval_id
		WHERE s.status = $1
		  AND a.status = $2
		  AND s.is_escalated = FALSE
		  AND s.escalate_at IS NOT NULL
		  AND s.escalate_at <= NOW()
		ORDER BY s.escalate_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, StageStatusActive, ApprovalStatusActive, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list stages due for escalation")
	}
	defer rows.Close()

	var stages []*EscalatableStage
	for rows.Next() {
		s := &EscalatableStage{}
		err := rows.Scan(
			&s.ID,
			&s.ApprovalID,
			&s.Status,
			&s.Level,
			&s.RoleID,
			&s.Approver,
			&s.Escalators,
			&s.TimeLimit,
			&s.WarningOffset,
			&s.WarnAt,
			&s.EscalateAt,
			&s.IsEscalated,
			&s.UpdatedBy,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.TemplateID,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan escalatable stage")
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// MarkEscalated flips is_escalated to true. The update is conditional so a
// stage is flagged exactly once even if two sweeps ever overlap; the return
// value reports whether this call won the flag.
func (r *StageRepository) MarkEscalated(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE approval_stages
		SET is_escalated = TRUE,
		    updated_at   = NOW()
		WHERE id = $1
		  AND is_escalated = FALSE
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark stage escalated")
	}
	return true, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *StageRepository) scanRows(rows pgx.Rows) ([]*ApprovalStage, error) {
	var stages []*ApprovalStage
	for rows.Next() {
		s := &ApprovalStage{}
		err := rows.Scan(
			&s.ID,
			&s.ApprovalID,
			&s.Status,
			&s.Level,
			&s.RoleID,
			&s.Approver,
			&s.Escalators,
			&s.TimeLimit,
			&s.WarningOffset,
			&s.WarnAt,
			&s.EscalateAt,
			&s.IsEscalated,
			&s.UpdatedBy,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval stage")
		}
		stages = append(stages, s)
	}
	return stages, nil
}
