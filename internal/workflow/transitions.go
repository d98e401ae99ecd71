package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/gateway"
	"github.com/garyjia/ap-invoice-flow/internal/ledger"
	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// advance executes stage transitions in order until the run suspends,
// halts, or reaches a terminal stage. Stages never reorder or skip; the
// switch below is the only place a stage is mapped to its transition.
func (o *Orchestrator) advance(ctx context.Context, run *models.InvoiceRun) error {
	for !run.Stage.IsTerminal() && !run.Suspended && !run.Halted {
		var err error
		switch run.Stage {
		case models.StageIntake:
			err = o.stepIntake(ctx, run)
		case models.StageUnderstand:
			err = o.stepUnderstand(ctx, run)
		case models.StagePrepare:
			err = o.stepPrepare(ctx, run)
		case models.StageRetrieve:
			err = o.stepRetrieve(ctx, run)
		case models.StageMatchTwoWay:
			err = o.stepMatch(ctx, run)
		case models.StageCheckpointHITL:
			err = o.suspendForReview(ctx, run)
		case models.StageHITLDecision:
			err = o.stepHITLDecision(ctx, run)
		case models.StageReconcile:
			err = o.stepReconcile(ctx, run)
		case models.StageApprove:
			err = o.stepApprove(ctx, run)
		case models.StagePosting:
			err = o.stepPosting(ctx, run)
		case models.StageNotify:
			err = o.stepNotify(ctx, run)
		default:
			err = fmt.Errorf("run %s is in unknown stage %s", run.RunID, run.Stage)
		}
		o.publish(run)
		if err != nil {
			return err
		}
	}
	return nil
}

// stepIntake: INTAKE → UNDERSTAND. The payload passed schema and
// semantic validation before the run was created.
func (o *Orchestrator) stepIntake(_ context.Context, run *models.InvoiceRun) error {
	run.RecordTransition(models.StageIntake,
		fmt.Sprintf("payload validated: vendor %s, %s %.2f",
			run.Payload.VendorID, run.Payload.Currency, run.Payload.TotalAmount))
	run.Stage = models.StageUnderstand
	return nil
}

// stepUnderstand: UNDERSTAND → PREPARE. Extraction and parsing through
// the tool gateway, with bounded retries; parsed values fill any gaps
// in the submitted payload.
func (o *Orchestrator) stepUnderstand(ctx context.Context, run *models.InvoiceRun) error {
	ocrBackend := gateway.SelectBackend(gateway.CapabilityOCR,
		map[string]string{"filename": run.Payload.DocumentRef})
	run.ToolChoices[gateway.CapabilityOCR] = ocrBackend

	ocrRes, err := o.invokeWithRetry(ctx, gateway.ToolOCRExtract, gateway.Args{
		"document_ref":  run.Payload.DocumentRef,
		"document_text": run.Payload.DocumentText,
		"backend":       ocrBackend,
	})
	if err != nil {
		return o.halt(ctx, run, models.StageUnderstand, err)
	}
	run.OCRText = gateway.StringField(ocrRes, "text")

	parseRes, err := o.invokeWithRetry(ctx, gateway.ToolParseInvoice, gateway.Args{
		"text": run.OCRText,
	})
	if err != nil {
		return o.halt(ctx, run, models.StageUnderstand, err)
	}

	if run.Payload.VendorName == "" {
		run.Payload.VendorName = gateway.StringField(parseRes, "vendor_name")
	}
	if len(run.Payload.LineItems) == 0 {
		if items, ok := parseRes["line_items"].([]models.LineItem); ok {
			run.Payload.LineItems = items
		}
	}

	run.RecordTransition(models.StageUnderstand,
		fmt.Sprintf("document parsed via %s: vendor %q, %d line items",
			ocrBackend, run.Payload.VendorName, len(run.Payload.LineItems)))
	run.Stage = models.StagePrepare
	return nil
}

// stepPrepare: PREPARE → RETRIEVE. Vendor normalization is
// lookup-or-default and always succeeds; risk flags are derived from
// the enrichment profile.
func (o *Orchestrator) stepPrepare(ctx context.Context, run *models.InvoiceRun) error {
	enrichBackend := gateway.SelectBackend(gateway.CapabilityEnrichment,
		map[string]string{"vendor": run.Payload.VendorName})
	run.ToolChoices[gateway.CapabilityEnrichment] = enrichBackend

	res, err := o.invokeWithRetry(ctx, gateway.ToolEnrichVendor, gateway.Args{
		"vendor_id":   run.Payload.VendorID,
		"vendor_name": run.Payload.VendorName,
		"backend":     enrichBackend,
	})
	if err != nil {
		return o.halt(ctx, run, models.StagePrepare, err)
	}

	if profile, ok := res["profile"].(*models.VendorProfile); ok {
		run.VendorProfile = profile
		run.Flags = profile.RiskFlags(o.cfg.MinCreditScore)
	}

	outcome := fmt.Sprintf("vendor enriched via %s", enrichBackend)
	if run.VendorProfile != nil {
		outcome = fmt.Sprintf("%s: credit score %d, risk %s",
			outcome, run.VendorProfile.CreditScore, run.VendorProfile.RiskLevel)
	}
	if len(run.Flags) > 0 {
		outcome += ", flags: " + strings.Join(run.Flags, ", ")
	}
	run.RecordTransition(models.StagePrepare, outcome)
	run.Stage = models.StageRetrieve
	return nil
}

// stepRetrieve: RETRIEVE → MATCH_TWO_WAY, or directly to
// CHECKPOINT_HITL when no purchase order exists (a business exception
// treated as a zero-score match, never an error).
func (o *Orchestrator) stepRetrieve(ctx context.Context, run *models.InvoiceRun) error {
	run.ToolChoices[gateway.CapabilityERP] = gateway.SelectBackend(gateway.CapabilityERP, nil)

	res, err := o.invokeWithRetry(ctx, gateway.ToolFetchPO, gateway.Args{
		"vendor_id": run.Payload.VendorID,
	})
	if err != nil {
		return o.halt(ctx, run, models.StageRetrieve, err)
	}

	if !gateway.BoolField(res, "found") {
		run.MatchResult = o.matcher.Score(run.Payload, nil, nil)
		run.SuspendReason = models.SuspendNoMatchingPO
		run.RecordTransition(models.StageRetrieve,
			"no matching purchase order record, routing to human review")
		run.Stage = models.StageCheckpointHITL
		return nil
	}

	if pos, ok := res["po_records"].([]models.PORecord); ok {
		run.PORecords = pos
	}
	if grns, ok := res["grn_records"].([]models.GRNRecord); ok {
		run.GRNRecords = grns
	}

	run.RecordTransition(models.StageRetrieve,
		fmt.Sprintf("fetched %d purchase orders, %d goods receipts",
			len(run.PORecords), len(run.GRNRecords)))
	run.Stage = models.StageMatchTwoWay
	return nil
}

// stepMatch: MATCH_TWO_WAY → RECONCILE when the score clears the
// threshold, otherwise → CHECKPOINT_HITL.
func (o *Orchestrator) stepMatch(_ context.Context, run *models.InvoiceRun) error {
	result := o.matcher.Score(run.Payload, run.PORecords, run.GRNRecords)
	run.MatchResult = result

	if result.Score < o.cfg.ScoreThreshold {
		run.SuspendReason = models.SuspendMatchBelowThreshold
		run.RecordTransition(models.StageMatchTwoWay,
			fmt.Sprintf("score %.2f below threshold %.2f, routing to human review",
				result.Score, o.cfg.ScoreThreshold))
		run.Stage = models.StageCheckpointHITL
		return nil
	}

	run.RecordTransition(models.StageMatchTwoWay,
		fmt.Sprintf("score %.2f against %s", result.Score, result.PONumber))
	run.Stage = models.StageReconcile
	return nil
}

// suspendForReview executes CHECKPOINT_HITL: the full run state is
// persisted and the worker yields. Resumption is externally driven; no
// timeout applies.
func (o *Orchestrator) suspendForReview(ctx context.Context, run *models.InvoiceRun) error {
	run.Suspended = true
	run.ReviewURL = fmt.Sprintf("%s/%s", o.cfg.ReviewURLBase, run.RunID)
	run.RecordTransition(models.StageCheckpointHITL,
		fmt.Sprintf("suspended for human review (%s)", run.SuspendReason))

	if err := o.store.Save(ctx, run); err != nil {
		run.Suspended = false
		return fmt.Errorf("failed to checkpoint run %s: %w", run.RunID, err)
	}

	o.logger.Info("Run suspended for human review",
		zap.String("run_id", run.RunID),
		zap.String("reason", run.SuspendReason),
		zap.String("review_url", run.ReviewURL))
	return nil
}

// stepHITLDecision: HITL_DECISION → RECONCILE on accept, → REJECTED on
// reject. The decision and reason land in the audit trail either way.
func (o *Orchestrator) stepHITLDecision(ctx context.Context, run *models.InvoiceRun) error {
	decision := run.HITLDecision
	if decision == nil {
		return fmt.Errorf("run %s reached HITL_DECISION without a decision record", run.RunID)
	}

	run.RecordTransition(models.StageHITLDecision,
		fmt.Sprintf("reviewer %s decided %s: %s",
			decision.ReviewerID, decision.Action, decision.Reason))

	if decision.Action == models.DecisionReject {
		return o.finalizeRejected(ctx, run,
			fmt.Sprintf("rejected by reviewer %s", decision.ReviewerID))
	}

	run.Stage = models.StageReconcile
	return nil
}

// stepReconcile: RECONCILE → APPROVE. Ledger entries derive from the
// reconciled amount; this is a durable write point.
func (o *Orchestrator) stepReconcile(ctx context.Context, run *models.InvoiceRun) error {
	amount := run.ReconciledAmount()
	run.LedgerEntries = ledger.BuildEntries(amount, run.Payload.VendorName)

	run.RecordTransition(models.StageReconcile,
		fmt.Sprintf("built %d ledger entries for %.2f", len(run.LedgerEntries), amount))
	run.Stage = models.StageApprove

	if err := o.store.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to checkpoint run %s after reconcile: %w", run.RunID, err)
	}
	return nil
}

// stepApprove: APPROVE → POSTING, suspension for CFO escalation, or
// REJECTED, per the approval policy.
func (o *Orchestrator) stepApprove(ctx context.Context, run *models.InvoiceRun) error {
	outcome := o.policy.Decide(run.MatchResult, run.ReconciledAmount(), run.HITLDecision)
	run.ApprovalVerdict = outcome.Verdict
	run.RecordTransition(models.StageApprove, outcome.Rationale)

	switch outcome.Verdict {
	case models.VerdictAutoApproved, models.VerdictHumanApproved:
		run.Stage = models.StagePosting
		return nil

	case models.VerdictEscalated:
		run.Suspended = true
		run.SuspendReason = models.SuspendCFOEscalation
		run.ReviewURL = fmt.Sprintf("%s/%s", o.cfg.ReviewURLBase, run.RunID)
		if err := o.store.Save(ctx, run); err != nil {
			run.Suspended = false
			return fmt.Errorf("failed to checkpoint run %s at escalation: %w", run.RunID, err)
		}
		o.logger.Info("Run escalated for CFO approval",
			zap.String("run_id", run.RunID),
			zap.Float64("amount", run.ReconciledAmount()))
		return nil

	default:
		return o.finalizeRejected(ctx, run, outcome.Rationale)
	}
}

// resumeEscalation applies the CFO decision to a run suspended at
// APPROVE and continues. Single-step approval: one accept releases the
// posting.
func (o *Orchestrator) resumeEscalation(ctx context.Context, run *models.InvoiceRun, decision models.Decision) error {
	run.CFODecision = &decision
	run.Suspended = false
	run.SuspendReason = ""

	run.RecordTransition(models.StageApprove,
		fmt.Sprintf("CFO %s decided %s: %s",
			decision.ReviewerID, decision.Action, decision.Reason))

	if decision.Action == models.DecisionReject {
		return o.finalizeRejected(ctx, run,
			fmt.Sprintf("rejected at escalation by %s", decision.ReviewerID))
	}

	run.Stage = models.StagePosting
	return o.advance(ctx, run)
}

// stepPosting: POSTING → NOTIFY. Posting is retried with the run id as
// idempotency key; exhausting retries halts the run recoverably, never
// marking it complete.
func (o *Orchestrator) stepPosting(ctx context.Context, run *models.InvoiceRun) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.PostingMaxAttempts; attempt++ {
		res, err := o.gateway.Invoke(ctx, gateway.ToolPostToERP, gateway.Args{
			"run_id":      run.RunID,
			"amount":      run.ReconciledAmount(),
			"entry_count": float64(len(run.LedgerEntries)),
		})
		if err == nil {
			run.ERPTxnID = gateway.StringField(res, "erp_txn_id")
			outcome := fmt.Sprintf("posted to ERP, transaction %s", run.ERPTxnID)
			if gateway.BoolField(res, "already_posted") {
				outcome = fmt.Sprintf("posting already recorded, transaction %s", run.ERPTxnID)
			}
			run.RecordTransition(models.StagePosting, outcome)
			run.Stage = models.StageNotify
			return nil
		}

		lastErr = err
		o.logger.Warn("ERP posting attempt failed",
			zap.String("run_id", run.RunID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < o.cfg.PostingMaxAttempts {
			if err := o.backoff(ctx, attempt); err != nil {
				return err
			}
		}
	}

	failure := &models.PostingFailure{
		RunID:    run.RunID,
		Attempts: o.cfg.PostingMaxAttempts,
		Err:      lastErr,
	}
	run.Halted = true
	run.LastError = failure.Error()
	run.RecordTransition(models.StagePosting, failure.Error())

	if err := o.store.Save(ctx, run); err != nil {
		o.logger.Error("Failed to checkpoint halted run",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
	return failure
}

// stepNotify: NOTIFY → COMPLETE. Notification is best-effort; failures
// are recorded and never block completion.
func (o *Orchestrator) stepNotify(ctx context.Context, run *models.InvoiceRun) error {
	recipient := o.cfg.NotifyRecipient
	message := fmt.Sprintf("Invoice run %s posted: %s %.2f to %s (transaction %s)",
		run.RunID, run.Payload.Currency, run.ReconciledAmount(),
		run.Payload.VendorName, run.ERPTxnID)

	outcome := "notification sent"
	if recipient == "" {
		outcome = "notification skipped: no recipient configured"
	} else if _, err := o.gateway.Invoke(ctx, gateway.ToolNotify, gateway.Args{
		"recipient": recipient,
		"message":   message,
	}); err != nil {
		outcome = fmt.Sprintf("notification failed (non-fatal): %v", err)
		o.logger.Warn("Notification failed",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}

	run.RecordTransition(models.StageNotify, outcome)
	return o.finalizeComplete(ctx, run)
}

// finalizeComplete moves the run to COMPLETE, persists the terminal
// record and exports the voucher best-effort.
func (o *Orchestrator) finalizeComplete(ctx context.Context, run *models.InvoiceRun) error {
	run.Stage = models.StageComplete
	run.RecordTransition(models.StageComplete, "workflow finalized")

	if err := o.store.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to persist completed run %s: %w", run.RunID, err)
	}

	if o.exporter != nil {
		if _, err := o.exporter.Export(run); err != nil {
			o.logger.Warn("Voucher export failed",
				zap.String("run_id", run.RunID),
				zap.Error(err))
		}
	}

	o.logger.Info("Run completed",
		zap.String("run_id", run.RunID),
		zap.String("verdict", string(run.ApprovalVerdict)),
		zap.Int("audit_entries", len(run.AuditTrail)))
	return nil
}

// finalizeRejected moves the run to the REJECTED terminal stage.
func (o *Orchestrator) finalizeRejected(ctx context.Context, run *models.InvoiceRun, reason string) error {
	run.ApprovalVerdict = models.VerdictRejected
	run.Stage = models.StageRejected
	run.RecordTransition(models.StageRejected, reason)

	if err := o.store.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to persist rejected run %s: %w", run.RunID, err)
	}

	o.logger.Info("Run rejected",
		zap.String("run_id", run.RunID),
		zap.String("reason", reason))
	return nil
}

// halt parks the run in a queryable error state after tool retries are
// exhausted and surfaces the failure.
func (o *Orchestrator) halt(ctx context.Context, run *models.InvoiceRun, stage models.Stage, cause error) error {
	run.Halted = true
	run.LastError = cause.Error()
	run.RecordTransition(stage, fmt.Sprintf("halted: %v", cause))

	if err := o.store.Save(ctx, run); err != nil {
		o.logger.Error("Failed to checkpoint halted run",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
	return cause
}

// invokeWithRetry calls a tool through the gateway with bounded retries
// and linear backoff. Unavailable tools are not retried.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, tool string, args gateway.Args) (gateway.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxToolRetries; attempt++ {
		res, err := o.gateway.Invoke(ctx, tool, args)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var unavailable *models.ToolUnavailable
		if errors.As(err, &unavailable) {
			break
		}

		if attempt < o.cfg.MaxToolRetries {
			if err := o.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, &models.ToolFailure{Tool: tool, Attempts: o.cfg.MaxToolRetries, Err: lastErr}
}

// backoff waits attempt*RetryBackoff or until the context is done.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt) * o.cfg.RetryBackoff):
		return nil
	}
}
