package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/database"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/logger"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

// fakeTxRunner runs the transactional closure directly; the fakes ignore
// the Querier, so a nil tx is fine.
type fakeTxRunner struct{}

func (fakeTxRunner) InTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// fakeState is the shared in-memory data behind the store fakes. The fakes
// mirror the conditional-update semantics of the SQL repositories.
type fakeState struct {
	templates map[string]*repository.Template
	approvals map[string]*repository.Approval
	stages    map[string]*repository.ApprovalStage
	logs      []*repository.TemplateLogEntry

	templateUpdateErr error
	seq               int
}

func newFakeState() *fakeState {
	return &fakeState{
		templates: make(map[string]*repository.Template),
		approvals: make(map[string]*repository.Approval),
		stages:    make(map[string]*repository.ApprovalStage),
	}
}

func (f *fakeState) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeState) actions(templateID string) []string {
	var actions []string
	for _, e := range f.logs {
		if e.TemplateID == templateID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

// ── ApprovalStore ─────────────────────────────────────────────────────────────

type fakeApprovals struct{ *fakeState }

func (f *fakeApprovals) Create(_ context.Context, _ database.Querier, approval *repository.Approval, stages []*repository.ApprovalStage) error {
	now := time.Now().UTC()
	approval.ID = f.nextID("approval")
	approval.CreatedAt = now
	approval.UpdatedAt = now
	f.approvals[approval.ID] = approval
	for _, s := range stages {
		s.ID = f.nextID("stage")
		s.ApprovalID = approval.ID
		s.CreatedAt = now
		s.UpdatedAt = now
		f.stages[s.ID] = s
	}
	return nil
}

func (f *fakeApprovals) GetActiveByTemplateID(_ context.Context, _ database.Querier, templateID string) (*repository.Approval, error) {
	for _, a := range f.approvals {
		if a.TemplateID == templateID && a.Status == repository.ApprovalStatusActive {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeApprovals) LockActiveByTemplateID(ctx context.Context, q database.Querier, templateID string) (*repository.Approval, error) {
	return f.GetActiveByTemplateID(ctx, q, templateID)
}

func (f *fakeApprovals) UpdateStatus(_ context.Context, _ database.Querier, id, status string) error {
	a, ok := f.approvals[id]
	if !ok {
		return errors.NotFound("approval", id)
	}
	if a.Status != repository.ApprovalStatusActive {
		return errors.New(errors.ErrCodeConflict, "approval is no longer active")
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ── StageStore ────────────────────────────────────────────────────────────────

type fakeStages struct{ *fakeState }

func (f *fakeStages) GetByApprovalID(_ context.Context, _ database.Querier, approvalID string) ([]*repository.ApprovalStage, error) {
	var stages []*repository.ApprovalStage
	for _, s := range f.stages {
		if s.ApprovalID == approvalID {
			stages = append(stages, s)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Level < stages[j].Level })
	return stages, nil
}

func (f *fakeStages) GetActiveByApprovalID(ctx context.Context, q database.Querier, approvalID string) ([]*repository.ApprovalStage, error) {
	all, _ := f.GetByApprovalID(ctx, q, approvalID)
	var active []*repository.ApprovalStage
	for _, s := range all {
		if s.Status == repository.StageStatusActive {
			active = append(active, s)
		}
	}
	return active, nil
}

func (f *fakeStages) UpdateStatus(_ context.Context, _ database.Querier, id, status, updatedBy string) error {
	s, ok := f.stages[id]
	if !ok {
		return errors.NotFound("stage", id)
	}
	if s.Status != repository.StageStatusActive {
		return errors.New(errors.ErrCodeConflict, "stage is no longer active")
	}
	s.Status = status
	s.UpdatedBy = &updatedBy
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStages) ListDueForEscalation(_ context.Context, limit int) ([]*repository.EscalatableStage, error) {
	now := time.Now().UTC()
	var due []*repository.EscalatableStage
	for _, s := range f.stages {
		if s.Status != repository.StageStatusActive || s.IsEscalated {
			continue
		}
		if s.EscalateAt == nil || s.EscalateAt.After(now) {
			continue
		}
		a, ok := f.approvals[s.ApprovalID]
		if !ok || a.Status != repository.ApprovalStatusActive {
			continue
		}
		due = append(due, &repository.EscalatableStage{ApprovalStage: *s, TemplateID: a.TemplateID})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EscalateAt.Before(*due[j].EscalateAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStages) MarkEscalated(_ context.Context, id string) (bool, error) {
	s, ok := f.stages[id]
	if !ok {
		return false, errors.NotFound("stage", id)
	}
	if s.IsEscalated {
		return false, nil
	}
	s.IsEscalated = true
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ── TemplateStore ─────────────────────────────────────────────────────────────

type fakeTemplates struct{ *fakeState }

func (f *fakeTemplates) GetByID(_ context.Context, id string) (*repository.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, errors.NotFound("template", id)
	}
	return t, nil
}

func (f *fakeTemplates) LockByID(ctx context.Context, _ database.Querier, id string) (*repository.Template, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTemplates) UpdateStatus(_ context.Context, _ database.Querier, id, status string) error {
	if f.templateUpdateErr != nil {
		return f.templateUpdateErr
	}
	t, ok := f.templates[id]
	if !ok {
		return errors.NotFound("template", id)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ── AuditStore ────────────────────────────────────────────────────────────────

type fakeAudit struct{ *fakeState }

func (f *fakeAudit) Append(_ context.Context, _ database.Querier, entry *repository.TemplateLogEntry) error {
	entry.ID = f.nextID("log")
	entry.CreatedAt = time.Now().UTC()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeAudit) GetByTemplateID(_ context.Context, templateID string) ([]*repository.TemplateLogEntry, error) {
	var entries []*repository.TemplateLogEntry
	for _, e := range f.logs {
		if e.TemplateID == templateID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ── Collaborators ─────────────────────────────────────────────────────────────

type fakeRules struct {
	rules []client.StageRule
	err   error
}

func (f *fakeRules) GetRules(_ context.Context, _ string) ([]client.StageRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

type fakeUsers struct {
	byEmail map[string]*client.User
	err     error
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*client.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byEmail[email], nil
}

type fakeNotifier struct {
	sent []*client.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n *client.Notification) {
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) ofType(typ string) []*client.Notification {
	var matched []*client.Notification
	for _, n := range f.sent {
		if n.Type == typ {
			matched = append(matched, n)
		}
	}
	return matched
}

// ── Test environment ──────────────────────────────────────────────────────────

type testEnv struct {
	state    *fakeState
	rules    *fakeRules
	users    *fakeUsers
	notifier *fakeNotifier
	svc      *ApprovalService
	scanner  *EscalationScanner
}

func newTestEnv() *testEnv {
	state := newFakeState()
	rules := &fakeRules{}
	users := &fakeUsers{byEmail: make(map[string]*client.User)}
	notifier := &fakeNotifier{}
	stages := &fakeStages{state}
	audit := &fakeAudit{state}

	svc := NewApprovalService(
		fakeTxRunner{},
		&fakeApprovals{state},
		stages,
		&fakeTemplates{state},
		audit,
		rules, users, notifier, testLogger(),
	)
	scanner := NewEscalationScanner(stages, users, audit, notifier, testLogger(), 100)

	return &testEnv{
		state:    state,
		rules:    rules,
		users:    users,
		notifier: notifier,
		svc:      svc,
		scanner:  scanner,
	}
}

func (e *testEnv) addTemplate(id, channelID, status string) *repository.Template {
	t := &repository.Template{
		ID:        id,
		ChannelID: channelID,
		Name:      "Order confirmation",
		Status:    status,
		CreatedBy: "user-creator",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	e.state.templates[id] = t
	return t
}

func (e *testEnv) addUser(email, id string) {
	e.users.byEmail[email] = &client.User{ID: id, Email: email}
}

func (e *testEnv) addApproval(templateID, status string) *repository.Approval {
	a := &repository.Approval{
		ID:         e.state.nextID("approval"),
		TemplateID: templateID,
		Status:     status,
		Priority:   repository.PriorityMedium,
		CreatedBy:  "user-submitter",
	}
	e.state.approvals[a.ID] = a
	return a
}

func (e *testEnv) addStage(approvalID string, level int, status string, escalateAt *time.Time, escalators []string) *repository.ApprovalStage {
	s := &repository.ApprovalStage{
		ID:            e.state.nextID("stage"),
		ApprovalID:    approvalID,
		Status:        status,
		Level:         level,
		RoleID:        "role-approver",
		Approver:      "approver@acme.io",
		Escalators:    escalators,
		TimeLimit:     60,
		WarningOffset: 40,
		EscalateAt:    escalateAt,
	}
	e.state.stages[s.ID] = s
	return s
}

func timePtr(t time.Time) *time.Time { return &t }
