package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

// TxRunner opens a transaction scope around one workflow action.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ApprovalStore persists approval aggregates. A nil Querier means "outside
// any transaction".
type ApprovalStore interface {
	Create(ctx context.Context, q database.Querier, approval *repository.Approval, stages []*repository.ApprovalStage) error
	GetActiveByTemplateID(ctx context.Context, q database.Querier, templateID string) (*repository.Approval, error)
	LockActiveByTemplateID(ctx context.Context, q database.Querier, templateID string) (*repository.Approval, error)
	UpdateStatus(ctx context.Context, q database.Querier, id, status string) error
}

// StageStore persists individual approval stages.
type StageStore interface {
	GetByApprovalID(ctx context.Context, q database.Querier, approvalID string) ([]*repository.ApprovalStage, error)
	GetActiveByApprovalID(ctx context.Context, q database.Querier, approvalID string) ([]*repository.ApprovalStage, error)
	UpdateStatus(ctx context.Context, q database.Querier, id, status, updatedBy string) error
	ListDueForEscalation(ctx context.Context, limit int) ([]*repository.EscalatableStage, error)
	MarkEscalated(ctx context.Context, id string) (bool, error)
}

// TemplateStore is the workflow's narrow view of the template library.
type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*repository.Template, error)
	LockByID(ctx context.Context, q database.Querier, id string) (*repository.Template, error)
	UpdateStatus(ctx context.Context, q database.Querier, id, status string) error
}

// AuditStore appends immutable workflow audit records.
type AuditStore interface {
	Append(ctx context.Context, q database.Querier, entry *repository.TemplateLogEntry) error
	GetByTemplateID(ctx context.Context, templateID string) ([]*repository.TemplateLogEntry, error)
}

// RuleProvider supplies the approval-stage rules for a channel.
type RuleProvider interface {
	GetRules(ctx context.Context, channelID string) ([]client.StageRule, error)
}

// UserDirectory resolves identities. FindByEmail returns nil (no error)
// when no user matches.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*client.User, error)
}

// NotificationDispatcher delivers workflow events best-effort; it never
// returns an error.
type NotificationDispatcher interface {
	Notify(ctx context.Context, n *client.Notification)
}
