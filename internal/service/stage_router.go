package service

import (
	"sort"

	"github.com/mobilytix/be-templates-approvals/internal/client"
	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
)

// maxChainLength is the longest approval chain the product supports:
// a review stage followed by an approve stage.
const maxChainLength = 2

// StageAssignment is one resolved slot in the approval chain: a rule plus
// the identity that will act on it.
type StageAssignment struct {
	Level         int
	RoleID        string
	Approver      string
	Escalators    []string
	TimeLimit     int
	WarningOffset int
}

// RouteStages filters the rule set down to the rules applicable to a
// channel and priority, orders them by level, and assigns the supplied
// identities to the resulting slots one-to-one.
//
// A single-rule chain is filled by approver alone. A two-rule chain is a
// review-then-approve chain: reviewer fills level 1 and approver fills
// level 2, and the reviewer is therefore mandatory.
func RouteStages(rules []client.StageRule, channelID, priority, approver, reviewer string) ([]StageAssignment, error) {
	var applicable []client.StageRule
	for _, rule := range rules {
		if rule.ChannelID == channelID && rule.Status == "ACTIVE" && rule.Priority == priority {
			applicable = append(applicable, rule)
		}
	}

	if len(applicable) == 0 {
		return nil, errors.New(errors.ErrCodeRulesNotConfigured,
			"no approval rules configured for this channel and priority")
	}
	if len(applicable) > maxChainLength {
		return nil, errors.Newf(errors.ErrCodeAmbiguousRouting,
			"%d approval rules apply; at most %d are supported", len(applicable), maxChainLength)
	}

	sort.Slice(applicable, func(i, j int) bool {
		return applicable[i].Level < applicable[j].Level
	})

	var identities []string
	switch len(applicable) {
	case 1:
		identities = []string{approver}
	default:
		if reviewer == "" {
			return nil, errors.InvalidInput("reviewer",
				"a reviewer is required for a multi-stage approval chain")
		}
		identities = []string{reviewer, approver}
	}

	if len(identities) != len(applicable) {
		return nil, errors.Newf(errors.ErrCodeAmbiguousRouting,
			"%d approval slots but %d identities supplied", len(applicable), len(identities))
	}

	assignments := make([]StageAssignment, 0, len(applicable))
	for i, rule := range applicable {
		assignments = append(assignments, StageAssignment{
			Level:         rule.Level,
			RoleID:        rule.RoleID,
			Approver:      identities[i],
			Escalators:    rule.Escalators,
			TimeLimit:     rule.TimeLimit,
			WarningOffset: rule.WarningOffset,
		})
	}
	return assignments, nil
}

// CurrentStage returns the stage the workflow is waiting on: the minimum
// level among ACTIVE stages. In a two-stage chain this is the review stage
// until it is approved, then the approve stage. Returns nil when no stage
// is active.
func CurrentStage(stages []*repository.ApprovalStage) *repository.ApprovalStage {
	var current *repository.ApprovalStage
	for _, stage := range stages {
		if stage.Status != repository.StageStatusActive {
			continue
		}
		if current == nil || stage.Level < current.Level {
			current = stage
		}
	}
	return current
}

// NextStage returns the active stage that becomes current once the stage at
// afterLevel completes, or nil when none remains.
func NextStage(stages []*repository.ApprovalStage, afterLevel int) *repository.ApprovalStage {
	var next *repository.ApprovalStage
	for _, stage := range stages {
		if stage.Status != repository.StageStatusActive || stage.Level <= afterLevel {
			continue
		}
		if next == nil || stage.Level < next.Level {
			next = stage
		}
	}
	return next
}
