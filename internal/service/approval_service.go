package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/logger"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

// Actor is the authenticated user performing a workflow operation, as
// resolved by the API gateway.
type Actor struct {
	ID    string
	Email string
}

// SubmitRequest carries the caller-supplied routing identities for a
// submission.
type SubmitRequest struct {
	Priority string `json:"priority"`
	Approver string `json:"approver"`
	Reviewer string `json:"reviewer,omitempty"`
}

// ApprovalService is the approval lifecycle manager. Each operation holds
// one transaction around all of its persistence mutations and dispatches
// notifications only after the transaction commits, so notification
// delivery can never roll back or block workflow progress.
type ApprovalService struct {
	db        TxRunner
	approvals ApprovalStore
	stages    StageStore
	templates TemplateStore
	audit     AuditStore
	rules     RuleProvider
	users     UserDirectory
	notifier  NotificationDispatcher
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	db TxRunner,
	approvals ApprovalStore,
	stages StageStore,
	templates TemplateStore,
	audit AuditStore,
	rules RuleProvider,
	users UserDirectory,
	notifier NotificationDispatcher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:        db,
		approvals: approvals,
		stages:    stages,
		templates: templates,
		audit:     audit,
		rules:     rules,
		users:     users,
		notifier:  notifier,
		log:       log,
	}
}

// pendingNotification is an event collected during a transaction and
// dispatched after commit. Either the recipient's user id is known already,
// or an email is resolved at dispatch time.
type pendingNotification struct {
	typ          string
	templateID   string
	sendToUserID string
	sendToEmail  string
	fromUser     string
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit starts an approval cycle for a template: resolves the stage rules
// for the template's channel and the given priority, validates the supplied
// identities, and creates the approval with all of its stages atomically,
// transitioning the template from DRAFT to PENDING in the same transaction.
func (s *ApprovalService) Submit(ctx context.Context, templateID string, req *SubmitRequest, actor Actor) (*repository.Approval, error) {
	if !repository.ValidPriority(req.Priority) {
		return nil, errors.InvalidInput("priority", "must be one of HIGH, MEDIUM, LOW")
	}
	if req.Approver == "" {
		return nil, errors.InvalidInput("approver", "approver email is required")
	}

	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Status != repository.TemplateStatusDraft {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"template is not in a submittable state (status: %s)", tmpl.Status)
	}

	existing, err := s.approvals.GetActiveByTemplateID(ctx, nil, templateID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeConflict,
			"template already has an active approval")
	}

	rules, err := s.rules.GetRules(ctx, tmpl.ChannelID)
	if err != nil {
		return nil, err
	}

	assignments, err := RouteStages(rules, tmpl.ChannelID, req.Priority, req.Approver, req.Reviewer)
	if err != nil {
		return nil, err
	}

	// Every named identity must resolve to a known user before anything is
	// persisted. The level-1 actor is the submit notification's recipient.
	var firstRecipient string
	for i, assignment := range assignments {
		user, err := s.users.FindByEmail(ctx, assignment.Approver)
		if err != nil {
			return nil, err
		}
		if user == nil {
			field := "approver"
			if len(assignments) > 1 && assignment.Level == assignments[0].Level {
				field = "reviewer"
			}
			return nil, errors.InvalidInput(field, "no user found with email "+assignment.Approver)
		}
		if i == 0 {
			firstRecipient = user.ID
		}
	}

	now := time.Now().UTC()
	approval := &repository.Approval{
		TemplateID: templateID,
		Status:     repository.ApprovalStatusActive,
		Priority:   req.Priority,
		CreatedBy:  actor.ID,
	}

	stages := make([]*repository.ApprovalStage, 0, len(assignments))
	for _, assignment := range assignments {
		warnAt := now.Add(time.Duration(assignment.WarningOffset) * time.Minute)
		escalateAt := now.Add(time.Duration(assignment.TimeLimit) * time.Minute)
		updatedBy := actor.ID
		stages = append(stages, &repository.ApprovalStage{
			Status:        repository.StageStatusActive,
			Level:         assignment.Level,
			RoleID:        assignment.RoleID,
			Approver:      assignment.Approver,
			Escalators:    assignment.Escalators,
			TimeLimit:     assignment.TimeLimit,
			WarningOffset: assignment.WarningOffset,
			WarnAt:        &warnAt,
			EscalateAt:    &escalateAt,
			UpdatedBy:     &updatedBy,
		})
	}

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Re-check both preconditions under row locks; the checks above are
		// advisory and can race with a concurrent submission.
		locked, err := s.templates.LockByID(ctx, tx, templateID)
		if err != nil {
			return err
		}
		if locked.Status != repository.TemplateStatusDraft {
			return errors.Newf(errors.ErrCodeConflict,
				"template is not in a submittable state (status: %s)", locked.Status)
		}
		active, err := s.approvals.LockActiveByTemplateID(ctx, tx, templateID)
		if err != nil {
			return err
		}
		if active != nil {
			return errors.New(errors.ErrCodeConflict,
				"template already has an active approval")
		}

		if err := s.approvals.Create(ctx, tx, approval, stages); err != nil {
			return err
		}
		if err := s.templates.UpdateStatus(ctx, tx, templateID, repository.TemplateStatusPending); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, &repository.TemplateLogEntry{
			TemplateID:     templateID,
			Action:         repository.LogActionSubmittedForApproval,
			PerformedBy:    actor.ID,
			PreviousStatus: strPtr(repository.TemplateStatusDraft),
			NewStatus:      strPtr(repository.TemplateStatusPending),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", templateID).
		Str("approval_id", approval.ID).
		Int("stages", len(stages)).
		Str("priority", req.Priority).
		Msg("Approval workflow created")

	submitType := client.NotificationSendForApproval
	if len(assignments) > 1 {
		submitType = client.NotificationSendForReview
	}
	s.dispatch(ctx, []pendingNotification{{
		typ:          submitType,
		templateID:   templateID,
		sendToUserID: firstRecipient,
		fromUser:     actor.ID,
	}})

	return approval, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve marks the current stage approved. If it was the final stage the
// whole approval and the template transition to APPROVED; otherwise the
// next stage becomes current and its approver is notified.
func (s *ApprovalService) Approve(ctx context.Context, templateID string, actor Actor, notes string) error {
	if _, err := s.templates.GetByID(ctx, templateID); err != nil {
		return err
	}

	var pending []pendingNotification

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approval, current, active, err := s.lockCurrentStage(ctx, tx, templateID, actor)
		if err != nil {
			return err
		}

		if err := s.stages.UpdateStatus(ctx, tx, current.ID, repository.StageStatusApproved, actor.ID); err != nil {
			return err
		}

		next := NextStage(active, current.Level)
		if next == nil {
			// Final stage: terminate the approval and publish the document
			// status in the same transaction.
			if err := s.approvals.UpdateStatus(ctx, tx, approval.ID, repository.ApprovalStatusApproved); err != nil {
				return err
			}
			if err := s.templates.UpdateStatus(ctx, tx, templateID, repository.TemplateStatusApproved); err != nil {
				return err
			}
			if err := s.audit.Append(ctx, tx, &repository.TemplateLogEntry{
				TemplateID:     templateID,
				Action:         repository.LogActionApproved,
				PerformedBy:    actor.ID,
				PreviousStatus: strPtr(repository.TemplateStatusPending),
				NewStatus:      strPtr(repository.TemplateStatusApproved),
				Notes:          notesPtr(notes),
			}); err != nil {
				return err
			}
			pending = append(pending, pendingNotification{
				typ:          client.NotificationAccepted,
				templateID:   templateID,
				sendToUserID: approval.CreatedBy,
				fromUser:     actor.ID,
			})
			return nil
		}

		// A review completed: the approval stays ACTIVE and the next stage
		// becomes current.
		if err := s.audit.Append(ctx, tx, &repository.TemplateLogEntry{
			TemplateID:     templateID,
			Action:         repository.LogActionReviewed,
			PerformedBy:    actor.ID,
			PreviousStatus: strPtr(repository.TemplateStatusPending),
			NewStatus:      strPtr(repository.TemplateStatusPending),
			Notes:          notesPtr(notes),
		}); err != nil {
			return err
		}
		pending = append(pending,
			pendingNotification{
				typ:          client.NotificationReviewed,
				templateID:   templateID,
				sendToUserID: approval.CreatedBy,
				fromUser:     actor.ID,
			},
			pendingNotification{
				typ:         client.NotificationSendForApproval,
				templateID:  templateID,
				sendToEmail: next.Approver,
				fromUser:    actor.ID,
			},
		)
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatch(ctx, pending)
	return nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject marks the current stage rejected and terminates the whole approval:
// rejection at any stage ends the chain, remaining stages are never
// activated.
func (s *ApprovalService) Reject(ctx context.Context, templateID string, actor Actor, notes string) error {
	if _, err := s.templates.GetByID(ctx, templateID); err != nil {
		return err
	}

	var pending []pendingNotification

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		approval, current, _, err := s.lockCurrentStage(ctx, tx, templateID, actor)
		if err != nil {
			return err
		}

		if err := s.stages.UpdateStatus(ctx, tx, current.ID, repository.StageStatusRejected, actor.ID); err != nil {
			return err
		}
		if err := s.approvals.UpdateStatus(ctx, tx, approval.ID, repository.ApprovalStatusRejected); err != nil {
			return err
		}
		if err := s.templates.UpdateStatus(ctx, tx, templateID, repository.TemplateStatusRejected); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, tx, &repository.TemplateLogEntry{
			TemplateID:     templateID,
			Action:         repository.LogActionRejected,
			PerformedBy:    actor.ID,
			PreviousStatus: strPtr(repository.TemplateStatusPending),
			NewStatus:      strPtr(repository.TemplateStatusRejected),
			Notes:          notesPtr(notes),
		}); err != nil {
			return err
		}

		pending = append(pending, pendingNotification{
			typ:          client.NotificationRejected,
			templateID:   templateID,
			sendToUserID: approval.CreatedBy,
			fromUser:     actor.ID,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatch(ctx, pending)
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetApproval returns the active approval for a template with its stages
// ordered by level.
func (s *ApprovalService) GetApproval(ctx context.Context, templateID string) (*repository.ApprovalWithStages, error) {
	approval, err := s.approvals.GetActiveByTemplateID(ctx, nil, templateID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, errors.NotFound("approval", templateID)
	}

	stages, err := s.stages.GetByApprovalID(ctx, nil, approval.ID)
	if err != nil {
		return nil, err
	}
	return &repository.ApprovalWithStages{Approval: *approval, Stages: stages}, nil
}

// GetLogs returns the template's full audit trail, oldest first.
func (s *ApprovalService) GetLogs(ctx context.Context, templateID string) ([]*repository.TemplateLogEntry, error) {
	return s.audit.GetByTemplateID(ctx, templateID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// lockCurrentStage loads the active approval and its active stages under a
// row lock and authorizes the actor against the current stage. Current
// stage = minimum level among stages with status ACTIVE.
func (s *ApprovalService) lockCurrentStage(ctx context.Context, tx pgx.Tx, templateID string, actor Actor) (*repository.Approval, *repository.ApprovalStage, []*repository.ApprovalStage, error) {
	approval, err := s.approvals.LockActiveByTemplateID(ctx, tx, templateID)
	if err != nil {
		return nil, nil, nil, err
	}
	if approval == nil {
		return nil, nil, nil, errors.NotFound("approval", templateID)
	}

	active, err := s.stages.GetActiveByApprovalID(ctx, tx, approval.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	current := CurrentStage(active)
	if current == nil {
		return nil, nil, nil, errors.NotFound("approval stage", templateID)
	}

	if current.Approver != actor.Email {
		return nil, nil, nil, errors.Forbidden(
			"user is not the approver for the current stage")
	}
	return approval, current, active, nil
}

// dispatch delivers the notifications collected during a committed
// transaction. Recipients known only by email are resolved here; every
// failure is logged and swallowed.
func (s *ApprovalService) dispatch(ctx context.Context, pending []pendingNotification) {
	for _, p := range pending {
		sendTo := p.sendToUserID
		if sendTo == "" && p.sendToEmail != "" {
			user, err := s.users.FindByEmail(ctx, p.sendToEmail)
			if err != nil {
				s.log.Warn().Err(err).
					Str("email", p.sendToEmail).
					Str("type", p.typ).
					Msg("notification: recipient lookup failed")
				continue
			}
			if user == nil {
				s.log.Warn().
					Str("email", p.sendToEmail).
					Str("type", p.typ).
					Msg("notification: recipient not found")
				continue
			}
			sendTo = user.ID
		}

		s.notifier.Notify(ctx, &client.Notification{
			Type:       p.typ,
			TemplateID: p.templateID,
			SendTo:     sendTo,
			FromUser:   p.fromUser,
		})
	}
}

func strPtr(s string) *string { return &s }

func notesPtr(notes string) *string {
	if notes == "" {
		return nil
	}
	return &notes
}
