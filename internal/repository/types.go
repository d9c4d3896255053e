package repository

import "time"

// ── Status and action constants ───────────────────────────────────────────────

// Approval statuses. An approval is terminal once it leaves ACTIVE.
const (
	ApprovalStatusActive   = "ACTIVE"
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusRejected = "REJECTED"
	ApprovalStatusClosed   = "CLOSED"
)

// Stage statuses.
const (
	StageStatusActive   = "ACTIVE"
	StageStatusApproved = "APPROVED"
	StageStatusRejected = "REJECTED"
)

// Approval priorities, matching the escalation matrix configuration.
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p string) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Template document statuses (owned by the template library, transitioned
// here only as a workflow side effect).
const (
	TemplateStatusDraft     = "DRAFT"
	TemplateStatusCreated   = "CREATED"
	TemplateStatusPending   = "PENDING"
	TemplateStatusApproved  = "APPROVED"
	TemplateStatusRejected  = "REJECTED"
	TemplateStatusPublished = "PUBLISHED"
	TemplateStatusArchived  = "ARCHIVED"
	TemplateStatusDeleted   = "DELETED"
)

// Audit log actions.
const (
	LogActionCreate               = "CREATE"
	LogActionSubmittedForApproval = "SUBMITTED_FOR_APPROVAL"
	LogActionReviewed             = "REVIEWED"
	LogActionApproved             = "APPROVED"
	LogActionRejected             = "REJECTED"
	LogActionEscalated            = "ESCALATED"
)

// ── Domain types ──────────────────────────────────────────────────────────────

// Approval is one submission cycle of a template through the approval chain.
type Approval struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"templateId"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ApprovalStage is one sign-off level within an approval. WarnAt and
// EscalateAt are derived once at creation and never recomputed; IsEscalated
// flips false to true exactly once, by the escalation scanner.
type ApprovalStage struct {
	ID            string     `json:"id"`
	ApprovalID    string     `json:"approvalId"`
	Status        string     `json:"status"`
	Level         int        `json:"level"`
	RoleID        string     `json:"roleId"`
	Approver      string     `json:"approver"`
	Escalators    []string   `json:"escalators"`
	TimeLimit     int        `json:"timeLimit"`
	WarningOffset int        `json:"warningOffset"`
	WarnAt        *time.Time `json:"warnAt"`
	EscalateAt    *time.Time `json:"escalateAt"`
	IsEscalated   bool       `json:"isEscalated"`
	UpdatedBy     *string    `json:"updatedBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ApprovalWithStages is the read model returned to clients.
type ApprovalWithStages struct {
	Approval
	Stages []*ApprovalStage `json:"stages"`
}

// EscalatableStage is a stage joined with its owning approval's template,
// as selected by the escalation sweep.
type EscalatableStage struct {
	ApprovalStage
	TemplateID string `json:"templateId"`
}

// TemplateLogEntry is one immutable audit record.
type TemplateLogEntry struct {
	ID             string    `json:"id"`
	TemplateID     string    `json:"templateId"`
	Action         string    `json:"action"`
	PerformedBy    string    `json:"performedBy"`
	PreviousStatus *string   `json:"previousStatus"`
	NewStatus      *string   `json:"newStatus"`
	Notes          *string   `json:"notes"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Template is the externally-owned document; only its status is mutated here.
type Template struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
