package service

import (
	"context"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/logger"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

// EscalationScanner is the recurring sweep that notifies escalation
// contacts about overdue stages. It is advisory only: it never changes a
// stage's status and never advances the workflow.
//
// Idempotence: the sweep selects only stages with is_escalated = false and
// flips the flag with a conditional update as the last per-stage action, so
// a stage is escalated exactly once even across restarts or overlapping
// runs. An interrupted sweep simply resumes on the next tick.
type EscalationScanner struct {
	stages     StageStore
	users      UserDirectory
	audit      AuditStore
	notifier   NotificationDispatcher
	log        *logger.Logger
	batchLimit int
}

// NewEscalationScanner creates a new EscalationScanner.
func NewEscalationScanner(
	stages StageStore,
	users UserDirectory,
	audit AuditStore,
	notifier NotificationDispatcher,
	log *logger.Logger,
	batchLimit int,
) *EscalationScanner {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &EscalationScanner{
		stages:     stages,
		users:      users,
		audit:      audit,
		notifier:   notifier,
		log:        log,
		batchLimit: batchLimit,
	}
}

// RunSweep performs one escalation pass. Per-stage and per-escalator
// failures are logged and skipped; only a failure to list due stages aborts
// the sweep (and even that only affects this run, not the schedule).
func (s *EscalationScanner) RunSweep(ctx context.Context) error {
	due, err := s.stages.ListDueForEscalation(ctx, s.batchLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.log.Info().Int("stages", len(due)).Msg("Escalation sweep: overdue stages found")

	for _, stage := range due {
		s.escalateStage(ctx, stage)
	}
	return nil
}

// escalateStage notifies every resolvable escalator for one stage, then
// flags the stage. The flag is the last action so a crash mid-stage means
// the stage is retried (not lost) on the next sweep.
func (s *EscalationScanner) escalateStage(ctx context.Context, stage *repository.EscalatableStage) {
	for _, email := range stage.Escalators {
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			s.log.Warn().Err(err).
				Str("stage_id", stage.ID).
				Str("escalator", email).
				Msg("Escalation sweep: escalator lookup failed")
			continue
		}
		if user == nil {
			s.log.Warn().
				Str("stage_id", stage.ID).
				Str("escalator", email).
				Msg("Escalation sweep: escalator not found")
			continue
		}

		s.notifier.Notify(ctx, &client.Notification{
			Type:       client.NotificationEscalation,
			TemplateID: stage.TemplateID,
			SendTo:     user.ID,
		})
	}

	flagged, err := s.stages.MarkEscalated(ctx, stage.ID)
	if err != nil {
		s.log.Error().Err(err).
			Str("stage_id", stage.ID).
			Msg("Escalation sweep: failed to flag stage")
		return
	}
	if !flagged {
		// Another sweep got here first; nothing more to do.
		s.log.Debug().Str("stage_id", stage.ID).Msg("Escalation sweep: stage already flagged")
		return
	}

	if err := s.audit.Append(ctx, nil, &repository.TemplateLogEntry{
		TemplateID:  stage.TemplateID,
		Action:      repository.LogActionEscalated,
		PerformedBy: "system",
	}); err != nil {
		s.log.Warn().Err(err).
			Str("stage_id", stage.ID).
			Msg("Escalation sweep: failed to write audit entry")
	}

	s.log.Info().
		Str("stage_id", stage.ID).
		Str("template_id", stage.TemplateID).
		Int("level", stage.Level).
		Msg("Stage escalated")
}
