package models

import "time"

// Stage identifies a step in the invoice processing lifecycle.
type Stage string

// Lifecycle stages, in execution order. REJECTED and CANCELLED are
// terminal stages reachable only from a decision point.
const (
	StageIntake         Stage = "INTAKE"
	StageUnderstand     Stage = "UNDERSTAND"
	StagePrepare        Stage = "PREPARE"
	StageRetrieve       Stage = "RETRIEVE"
	StageMatchTwoWay    Stage = "MATCH_TWO_WAY"
	StageCheckpointHITL Stage = "CHECKPOINT_HITL"
	StageHITLDecision   Stage = "HITL_DECISION"
	StageReconcile      Stage = "RECONCILE"
	StageApprove        Stage = "APPROVE"
	StagePosting        Stage = "POSTING"
	StageNotify         Stage = "NOTIFY"
	StageComplete       Stage = "COMPLETE"
	StageRejected       Stage = "REJECTED"
	StageCancelled      Stage = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageRejected || s == StageCancelled
}

// Suspension reasons recorded when a run yields control to an external actor.
const (
	SuspendMatchBelowThreshold = "MATCH_BELOW_THRESHOLD"
	SuspendNoMatchingPO        = "NO_MATCHING_PO_RECORD"
	SuspendCFOEscalation       = "CFO_ESCALATION"
)

// Vendor risk flags computed during PREPARE.
const (
	FlagLowCreditScore   = "RISK_LOW_CREDIT_SCORE"
	FlagHighRiskCategory = "RISK_CATEGORY_HIGH"
)

// ApprovalVerdict is the outcome of the approval policy gate.
type ApprovalVerdict string

const (
	VerdictAutoApproved  ApprovalVerdict = "AUTO_APPROVED"
	VerdictHumanApproved ApprovalVerdict = "HUMAN_APPROVED"
	VerdictEscalated     ApprovalVerdict = "ESCALATED"
	VerdictRejected      ApprovalVerdict = "REJECTED"
)

// Decision actions accepted on resume.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// Decision is a reviewer verdict delivered through the resume interface,
// either for a suspended human review or a CFO escalation.
type Decision struct {
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
	ReviewerID string    `json:"reviewer_id"`
	DecidedAt  time.Time `json:"decided_at"`
}

// AuditEntry records one executed stage transition.
type AuditEntry struct {
	Stage     Stage     `json:"stage"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Discrepancy is a single itemized mismatch found by the match engine.
type Discrepancy struct {
	Field    string  `json:"field"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Delta    float64 `json:"delta"`
}

// MatchResult holds the two-way match score and its itemized evidence.
// Set exactly once per run at MATCH_TWO_WAY (or at RETRIEVE when no PO
// record exists) and never overwritten.
type MatchResult struct {
	Score         float64       `json:"score"`
	PONumber      string        `json:"po_number,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	ComputedAt    time.Time     `json:"computed_at"`
}

// LedgerEntry is one accounting entry produced at RECONCILE.
type LedgerEntry struct {
	Type    string  `json:"type"` // DEBIT or CREDIT
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
	Vendor  string  `json:"vendor,omitempty"`
}

// Ledger entry types and accounts.
const (
	EntryDebit  = "DEBIT"
	EntryCredit = "CREDIT"

	AccountExpenseGeneral = "EXPENSE_General"
	AccountAPTrade        = "AP_Trade"
)

// InvoiceRun is one execution instance of the workflow. It is advanced
// by at most one worker at a time and becomes immutable once its stage
// is terminal.
type InvoiceRun struct {
	RunID string `json:"run_id"`
	Stage Stage  `json:"stage"`

	// Suspended is true while the run is parked waiting for an external
	// decision (human review or CFO escalation).
	Suspended     bool   `json:"suspended"`
	SuspendReason string `json:"suspend_reason,omitempty"`
	ReviewURL     string `json:"review_url,omitempty"`

	Payload       *InvoicePayload `json:"payload"`
	OCRText       string          `json:"ocr_text,omitempty"`
	VendorProfile *VendorProfile  `json:"vendor_profile,omitempty"`
	Flags         []string        `json:"flags,omitempty"`

	// ToolChoices records which backend the heuristic picker selected
	// per capability, for audit purposes.
	ToolChoices map[string]string `json:"tool_choices,omitempty"`

	PORecords  []PORecord  `json:"po_records,omitempty"`
	GRNRecords []GRNRecord `json:"grn_records,omitempty"`

	MatchResult     *MatchResult    `json:"match_result,omitempty"`
	HITLDecision    *Decision       `json:"hitl_decision,omitempty"`
	CFODecision     *Decision       `json:"cfo_decision,omitempty"`
	LedgerEntries   []LedgerEntry   `json:"ledger_entries,omitempty"`
	ApprovalVerdict ApprovalVerdict `json:"approval_verdict,omitempty"`
	ERPTxnID        string          `json:"erp_txn_id,omitempty"`

	// Halted marks a run stopped in a recoverable error state (exhausted
	// posting retries). The run stays queryable and re-attemptable.
	Halted    bool   `json:"halted,omitempty"`
	LastError string `json:"last_error,omitempty"`

	AuditTrail []AuditEntry `json:"audit_trail"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// RecordTransition appends one audit entry and bumps the update time.
func (r *InvoiceRun) RecordTransition(stage Stage, outcome string) {
	now := time.Now().UTC()
	r.AuditTrail = append(r.AuditTrail, AuditEntry{
		Stage:     stage,
		Outcome:   outcome,
		Timestamp: now,
	})
	r.UpdatedAt = now
}

// ReconciledAmount is the amount ledger entries are derived from: the
// invoice total, which an accepted HITL decision implicitly endorses.
func (r *InvoiceRun) ReconciledAmount() float64 {
	if r.Payload == nil {
		return 0
	}
	return r.Payload.TotalAmount
}
