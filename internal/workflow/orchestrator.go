// Package workflow drives the invoice lifecycle state machine. Each
// stage transition is an explicit function over the run state; human
// review is modeled as a durable continuation persisted to the
// checkpoint store, and resumption is a fresh invocation that loads
// state and continues where the run parked.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/approval"
	"github.com/garyjia/ap-invoice-flow/internal/gateway"
	"github.com/garyjia/ap-invoice-flow/internal/match"
	"github.com/garyjia/ap-invoice-flow/internal/models"
	"github.com/garyjia/ap-invoice-flow/pkg/utils"
)

// CheckpointStore is the durable persistence contract the orchestrator
// depends on.
type CheckpointStore interface {
	Save(ctx context.Context, run *models.InvoiceRun) error
	Load(ctx context.Context, runID string) (*models.InvoiceRun, error)
	ListHalted(ctx context.Context) ([]string, error)
}

// VoucherExporter writes the accounting voucher for a completed run.
type VoucherExporter interface {
	Export(run *models.InvoiceRun) (string, error)
}

// Config holds orchestrator behavior parameters.
type Config struct {
	ScoreThreshold     float64
	MaxToolRetries     int
	RetryBackoff       time.Duration
	PostingMaxAttempts int
	MinCreditScore     int
	ReviewURLBase      string
	NotifyRecipient    string
}

// Orchestrator advances invoice runs through the lifecycle. Runs are
// independent units of work; a per-run-id lock keeps each run in
// exactly one stage at a time while distinct runs proceed in parallel.
//
// The registry holds published snapshots, never the run a transition
// is mutating. Writers work on a private copy under the run lock and
// publish after each step, so Status and List read stable state while
// a run advances.
type Orchestrator struct {
	cfg      Config
	gateway  *gateway.Gateway
	matcher  *match.Engine
	policy   *approval.Policy
	store    CheckpointStore
	exporter VoucherExporter // optional
	locks    *lockRegistry
	logger   *zap.Logger

	mu   sync.RWMutex
	runs map[string]*models.InvoiceRun // immutable once published
}

// New creates an orchestrator.
func New(
	cfg Config,
	gw *gateway.Gateway,
	matcher *match.Engine,
	policy *approval.Policy,
	store CheckpointStore,
	exporter VoucherExporter,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		gateway:  gw,
		matcher:  matcher,
		policy:   policy,
		store:    store,
		exporter: exporter,
		locks:    newLockRegistry(),
		logger:   logger,
		runs:     make(map[string]*models.InvoiceRun),
	}
}

// Submit validates the payload, creates a run and advances it until it
// suspends, halts or terminates. Invalid payloads fail with
// ValidationError before any run exists.
func (o *Orchestrator) Submit(ctx context.Context, payload *models.InvoicePayload) (*models.InvoiceRun, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	run := &models.InvoiceRun{
		RunID:       uuid.NewString(),
		Stage:       models.StageIntake,
		Payload:     payload,
		ToolChoices: make(map[string]string),
		CreatedAt:   time.Now().UTC(),
	}

	o.publish(run)

	release := o.locks.acquire(run.RunID)
	defer release()

	o.logger.Info("Run created",
		zap.String("run_id", run.RunID),
		zap.String("vendor_id", payload.VendorID),
		zap.Float64("total_amount", payload.TotalAmount))

	err := o.advance(ctx, run)
	return run, err
}

// Resume delivers an external decision to a suspended run and continues
// the state machine. Resuming a run that is not suspended fails with
// InvalidResumeState.
func (o *Orchestrator) Resume(ctx context.Context, runID string, decision models.Decision) (*models.InvoiceRun, error) {
	release := o.locks.acquire(runID)
	defer release()

	run, err := o.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !run.Suspended {
		return nil, &models.InvalidResumeState{RunID: runID, Stage: run.Stage}
	}
	if decision.Action != models.DecisionAccept && decision.Action != models.DecisionReject {
		return nil, &models.ValidationError{Field: "action", Reason: "must be accept or reject"}
	}
	decision.Reason = utils.SanitizeString(decision.Reason)
	decision.DecidedAt = time.Now().UTC()

	switch run.SuspendReason {
	case models.SuspendCFOEscalation:
		err = o.resumeEscalation(ctx, run, decision)
	default:
		// Human review suspension (sub-threshold match or missing PO).
		run.HITLDecision = &decision
		run.Suspended = false
		run.SuspendReason = ""
		run.Stage = models.StageHITLDecision
		err = o.advance(ctx, run)
	}

	o.publish(run)
	return run, err
}

// Status returns the current state of a run: live runs from the
// registry, suspended runs from the checkpoint store. It never fails
// for a known run id, including halted-with-error runs.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*models.InvoiceRun, error) {
	o.mu.RLock()
	run, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return run, nil
	}

	run, err := o.store.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, models.ErrCheckpointNotFound) {
			return nil, models.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// Cancel terminates a suspended run. Runs that are executing or
// terminal cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, runID, reason, cancelledBy string) (*models.InvoiceRun, error) {
	release := o.locks.acquire(runID)
	defer release()

	run, err := o.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !run.Suspended {
		return nil, &models.InvalidResumeState{RunID: runID, Stage: run.Stage}
	}

	run.Suspended = false
	run.SuspendReason = ""
	run.Stage = models.StageCancelled
	run.RecordTransition(models.StageCancelled,
		fmt.Sprintf("cancelled by %s: %s", cancelledBy, utils.SanitizeString(reason)))

	if err := o.store.Save(ctx, run); err != nil {
		return nil, err
	}
	o.publish(run)

	o.logger.Info("Run cancelled",
		zap.String("run_id", runID),
		zap.String("cancelled_by", cancelledBy))
	return run, nil
}

// Recover re-attempts a run halted in the recoverable posting-failure
// state.
func (o *Orchestrator) Recover(ctx context.Context, runID string) (*models.InvoiceRun, error) {
	release := o.locks.acquire(runID)
	defer release()

	run, err := o.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !run.Halted || run.Stage != models.StagePosting {
		return nil, models.ErrRunNotRecoverable
	}

	run.Halted = false
	run.LastError = ""
	o.logger.Info("Recovering halted run", zap.String("run_id", runID))

	err = o.advance(ctx, run)
	o.publish(run)
	return run, err
}

// List returns run snapshots from the live registry, newest first.
func (o *Orchestrator) List(limit, offset int) []*models.InvoiceRun {
	o.mu.RLock()
	all := make([]*models.InvoiceRun, 0, len(o.runs))
	for _, run := range o.runs {
		all = append(all, run)
	}
	o.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	snapshots := make([]*models.InvoiceRun, len(all))
	for i, run := range all {
		snapshots[i] = o.snapshot(run)
	}
	return snapshots
}

// EvictTerminal drops terminal runs last updated before the cutoff from
// the in-memory registry. Their durable record stays in the checkpoint
// store until pruned by retention.
func (o *Orchestrator) EvictTerminal(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for runID, run := range o.runs {
		if run.Stage.IsTerminal() && run.UpdatedAt.Before(cutoff) {
			delete(o.runs, runID)
			evicted++
		}
	}
	return evicted
}

// loadRun returns a private, mutable copy of the run from the registry,
// falling back to the checkpoint store. Callers must hold the run lock
// and publish after mutating.
func (o *Orchestrator) loadRun(ctx context.Context, runID string) (*models.InvoiceRun, error) {
	o.mu.RLock()
	run, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return o.snapshot(run), nil
	}

	run, err := o.store.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, models.ErrCheckpointNotFound) {
			return nil, models.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// publish replaces the registry entry with an independent copy of the
// run. Published entries are never mutated afterwards, which is what
// lets Status and List serve them without the run lock.
func (o *Orchestrator) publish(run *models.InvoiceRun) {
	copied := o.snapshot(run)
	o.mu.Lock()
	o.runs[run.RunID] = copied
	o.mu.Unlock()
}

// snapshot returns an independent copy of the run so callers never
// observe a run mid-transition.
func (o *Orchestrator) snapshot(run *models.InvoiceRun) *models.InvoiceRun {
	data, err := json.Marshal(run)
	if err != nil {
		// The run state is always JSON-serializable; it round-trips
		// through the checkpoint store.
		o.logger.Error("Failed to snapshot run", zap.String("run_id", run.RunID), zap.Error(err))
		return run
	}
	var copied models.InvoiceRun
	if err := json.Unmarshal(data, &copied); err != nil {
		return run
	}
	return &copied
}

// validatePayload applies the semantic checks a payload must pass
// before a run is created.
func validatePayload(payload *models.InvoicePayload) error {
	if payload == nil {
		return &models.ValidationError{Field: "payload", Reason: "payload is required"}
	}
	if err := utils.ValidateVendorRef(payload.VendorID); err != nil {
		return &models.ValidationError{Field: "vendor_id", Reason: err.Error()}
	}
	if err := utils.ValidateAmount(payload.TotalAmount); err != nil {
		return &models.ValidationError{Field: "total_amount", Reason: err.Error()}
	}
	if err := utils.ValidateCurrency(payload.Currency); err != nil {
		return &models.ValidationError{Field: "currency", Reason: err.Error()}
	}
	if payload.DocumentRef == "" {
		return &models.ValidationError{Field: "document_ref", Reason: "document reference is required"}
	}
	return nil
}
