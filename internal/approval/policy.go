// Package approval implements the approval policy gate: a pure decision
// function mapping match outcome, amount and any human override onto an
// approval verdict. Thresholds come from configuration so policy can be
// audited and changed without touching the state machine.
package approval

import (
	"fmt"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// Policy holds the externally configurable approval thresholds.
type Policy struct {
	autoApprovalCeiling float64
	scoreThreshold      float64
}

// Outcome is the policy result with the rationale recorded in the
// run's audit trail.
type Outcome struct {
	Verdict   models.ApprovalVerdict
	Rationale string
}

// NewPolicy creates an approval policy.
func NewPolicy(autoApprovalCeiling, scoreThreshold float64) *Policy {
	return &Policy{
		autoApprovalCeiling: autoApprovalCeiling,
		scoreThreshold:      scoreThreshold,
	}
}

// Decide maps (match result, amount, optional HITL decision) to a
// verdict. Auto-approval requires the amount to be at or under the
// ceiling and either a score at or above the threshold or an accepted
// human override; anything else escalates. A rejecting override never
// reaches this gate (the state machine terminates the run at
// HITL_DECISION), but is handled defensively as a rejection.
func (p *Policy) Decide(result *models.MatchResult, amount float64, hitl *models.Decision) Outcome {
	if hitl != nil && hitl.Action == models.DecisionReject {
		return Outcome{
			Verdict:   models.VerdictRejected,
			Rationale: fmt.Sprintf("rejected by reviewer %s: %s", hitl.ReviewerID, hitl.Reason),
		}
	}

	score := 0.0
	if result != nil {
		score = result.Score
	}
	overridden := hitl != nil && hitl.Action == models.DecisionAccept

	if amount > p.autoApprovalCeiling {
		return Outcome{
			Verdict: models.VerdictEscalated,
			Rationale: fmt.Sprintf("amount %.2f exceeds auto-approval ceiling %.2f",
				amount, p.autoApprovalCeiling),
		}
	}

	if score >= p.scoreThreshold {
		return Outcome{
			Verdict: models.VerdictAutoApproved,
			Rationale: fmt.Sprintf("match score %.2f at or above threshold %.2f, amount within ceiling",
				score, p.scoreThreshold),
		}
	}

	if overridden {
		return Outcome{
			Verdict: models.VerdictHumanApproved,
			Rationale: fmt.Sprintf("accepted by reviewer %s: %s",
				hitl.ReviewerID, hitl.Reason),
		}
	}

	// Below threshold with no override: should not happen by
	// construction, since the state machine routes sub-threshold
	// matches through human review first.
	return Outcome{
		Verdict: models.VerdictEscalated,
		Rationale: fmt.Sprintf("match score %.2f below threshold %.2f without override",
			score, p.scoreThreshold),
	}
}
