package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

func rule(channelID, priority, status string, level int) client.StageRule {
	return client.StageRule{
		ID:            "rule-" + priority,
		Level:         level,
		RoleID:        "role-1",
		TimeLimit:     60,
		WarningOffset: 40,
		Escalators:    []string{"lead@acme.io"},
		ChannelID:     channelID,
		Priority:      priority,
		Status:        status,
	}
}

func TestRouteStagesSingleRule(t *testing.T) {
	rules := []client.StageRule{
		rule("ch-1", "MEDIUM", "ACTIVE", 1),
		rule("ch-1", "HIGH", "ACTIVE", 1),
		rule("ch-2", "MEDIUM", "ACTIVE", 1),
	}

	assignments, err := RouteStages(rules, "ch-1", "MEDIUM", "approver@acme.io", "")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, 1, assignments[0].Level)
	assert.Equal(t, "approver@acme.io", assignments[0].Approver)
	assert.Equal(t, 60, assignments[0].TimeLimit)
	assert.Equal(t, 40, assignments[0].WarningOffset)
	assert.Equal(t, []string{"lead@acme.io"}, assignments[0].Escalators)
}

func TestRouteStagesTwoRulesReviewerFirst(t *testing.T) {
	// Out of order on purpose; routing must sort by level.
	rules := []client.StageRule{
		rule("ch-1", "HIGH", "ACTIVE", 2),
		rule("ch-1", "HIGH", "ACTIVE", 1),
	}

	assignments, err := RouteStages(rules, "ch-1", "HIGH", "approver@acme.io", "reviewer@acme.io")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, 1, assignments[0].Level)
	assert.Equal(t, "reviewer@acme.io", assignments[0].Approver)
	assert.Equal(t, 2, assignments[1].Level)
	assert.Equal(t, "approver@acme.io", assignments[1].Approver)
}

func TestRouteStagesReviewerRequiredForTwoRules(t *testing.T) {
	rules := []client.StageRule{
		rule("ch-1", "HIGH", "ACTIVE", 1),
		rule("ch-1", "HIGH", "ACTIVE", 2),
	}

	_, err := RouteStages(rules, "ch-1", "HIGH", "approver@acme.io", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestRouteStagesNoApplicableRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []client.StageRule
	}{
		{"empty rule set", nil},
		{"wrong channel", []client.StageRule{rule("ch-2", "MEDIUM", "ACTIVE", 1)}},
		{"wrong priority", []client.StageRule{rule("ch-1", "HIGH", "ACTIVE", 1)}},
		{"inactive rule", []client.StageRule{rule("ch-1", "MEDIUM", "INACTIVE", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RouteStages(tt.rules, "ch-1", "MEDIUM", "approver@acme.io", "")
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeRulesNotConfigured, errors.CodeOf(err))
		})
	}
}

func TestRouteStagesTooManyRules(t *testing.T) {
	rules := []client.StageRule{
		rule("ch-1", "HIGH", "ACTIVE", 1),
		rule("ch-1", "HIGH", "ACTIVE", 2),
		rule("ch-1", "HIGH", "ACTIVE", 3),
	}

	_, err := RouteStages(rules, "ch-1", "HIGH", "approver@acme.io", "reviewer@acme.io")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAmbiguousRouting, errors.CodeOf(err))
}

func TestCurrentStageIsMinimumActiveLevel(t *testing.T) {
	stages := []*repository.ApprovalStage{
		{ID: "s1", Level: 1, Status: repository.StageStatusApproved},
		{ID: "s2", Level: 2, Status: repository.StageStatusActive},
		{ID: "s3", Level: 3, Status: repository.StageStatusActive},
	}

	current := CurrentStage(stages)
	require.NotNil(t, current)
	assert.Equal(t, "s2", current.ID)
}

func TestCurrentStageNilWhenNoneActive(t *testing.T) {
	stages := []*repository.ApprovalStage{
		{ID: "s1", Level: 1, Status: repository.StageStatusApproved},
		{ID: "s2", Level: 2, Status: repository.StageStatusRejected},
	}

	assert.Nil(t, CurrentStage(stages))
	assert.Nil(t, CurrentStage(nil))
}

func TestNextStage(t *testing.T) {
	stages := []*repository.ApprovalStage{
		{ID: "s1", Level: 1, Status: repository.StageStatusActive},
		{ID: "s2", Level: 2, Status: repository.StageStatusActive},
	}

	next := NextStage(stages, 1)
	require.NotNil(t, next)
	assert.Equal(t, "s2", next.ID)

	assert.Nil(t, NextStage(stages, 2))
}
