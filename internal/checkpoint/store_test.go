package checkpoint

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// The in-memory database vanishes if the pool opens a second
	// connection, so pin it to one.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE checkpoints (
			run_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			stage_at_suspend TEXT NOT NULL,
			terminal INTEGER NOT NULL DEFAULT 0,
			halted INTEGER NOT NULL DEFAULT 0,
			saved_at TIMESTAMP NOT NULL
		)
	`)
	require.NoError(t, err)

	return NewSQLiteStore(db, zap.NewNop())
}

func suspendedRun(runID string) *models.InvoiceRun {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.InvoiceRun{
		RunID:         runID,
		Stage:         models.StageCheckpointHITL,
		Suspended:     true,
		SuspendReason: models.SuspendMatchBelowThreshold,
		ReviewURL:     "http://internal/review/" + runID,
		Payload: &models.InvoicePayload{
			VendorID:    "V-100",
			VendorName:  "ACME CORP",
			TotalAmount: 5500.00,
			Currency:    "USD",
			DocumentRef: "inv-001.pdf",
			LineItems: []models.LineItem{
				{Description: "Industrial widgets", Quantity: 100, UnitPrice: 55.00, Amount: 5500.00},
			},
		},
		Flags:       []string{models.FlagLowCreditScore},
		ToolChoices: map[string]string{"ocr": "aws_textract"},
		PORecords: []models.PORecord{
			{PONumber: "PO-1001", VendorID: "V-100", Amount: 5000.00, Status: "APPROVED"},
		},
		MatchResult: &models.MatchResult{
			Score:    0.52,
			PONumber: "PO-1001",
			Discrepancies: []models.Discrepancy{
				{Field: "total_amount", Expected: "5000.00", Actual: "5500.00", Delta: 0.1},
			},
			ComputedAt: now,
		},
		AuditTrail: []models.AuditEntry{
			{Stage: models.StageIntake, Outcome: "accepted", Timestamp: now},
			{Stage: models.StageCheckpointHITL, Outcome: "suspended: MATCH_BELOW_THRESHOLD", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := suspendedRun("run-1")
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)

	// The reloaded run must carry everything resumption depends on.
	assert.Equal(t, run.RunID, loaded.RunID)
	assert.Equal(t, run.Stage, loaded.Stage)
	assert.True(t, loaded.Suspended)
	assert.Equal(t, run.SuspendReason, loaded.SuspendReason)
	assert.Equal(t, run.ReviewURL, loaded.ReviewURL)
	assert.Equal(t, run.Payload, loaded.Payload)
	assert.Equal(t, run.Flags, loaded.Flags)
	assert.Equal(t, run.ToolChoices, loaded.ToolChoices)
	assert.Equal(t, run.PORecords, loaded.PORecords)
	require.NotNil(t, loaded.MatchResult)
	assert.Equal(t, run.MatchResult.Score, loaded.MatchResult.Score)
	assert.Equal(t, run.MatchResult.Discrepancies, loaded.MatchResult.Discrepancies)
	assert.Len(t, loaded.AuditTrail, 2)
}

func TestSQLiteStore_SaveUpsertsSameRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := suspendedRun("run-1")
	require.NoError(t, store.Save(ctx, run))

	run.Suspended = false
	run.Stage = models.StageComplete
	run.ERPTxnID = "TXN-42"
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, loaded.Stage)
	assert.False(t, loaded.Suspended)
	assert.Equal(t, "TXN-42", loaded.ERPTxnID)
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, suspendedRun("run-1")))
	require.NoError(t, store.Delete(ctx, "run-1"))

	_, err := store.Load(ctx, "run-1")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)

	// Deleting an absent checkpoint is not an error.
	assert.NoError(t, store.Delete(ctx, "run-1"))
}

func TestSQLiteStore_ListHalted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	healthy := suspendedRun("run-suspended")
	require.NoError(t, store.Save(ctx, healthy))

	halted := suspendedRun("run-halted")
	halted.Suspended = false
	halted.Stage = models.StagePosting
	halted.Halted = true
	halted.LastError = "posting for run run-halted failed after 3 attempts"
	require.NoError(t, store.Save(ctx, halted))

	terminal := suspendedRun("run-done")
	terminal.Suspended = false
	terminal.Halted = true
	terminal.Stage = models.StageRejected
	require.NoError(t, store.Save(ctx, terminal))

	// A tool failure halt before posting is queryable but not a
	// recovery candidate, so it never shows up here.
	earlyHalt := suspendedRun("run-halted-early")
	earlyHalt.Suspended = false
	earlyHalt.Stage = models.StageUnderstand
	earlyHalt.Halted = true
	earlyHalt.LastError = "tool ocr_extract failed after 3 attempts"
	require.NoError(t, store.Save(ctx, earlyHalt))

	runIDs, err := store.ListHalted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-halted"}, runIDs)
}

func TestSQLiteStore_PruneTerminalBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := suspendedRun("run-done")
	done.Suspended = false
	done.Stage = models.StageComplete
	require.NoError(t, store.Save(ctx, done))

	active := suspendedRun("run-active")
	require.NoError(t, store.Save(ctx, active))

	// A cutoff in the future catches the terminal run saved just now.
	pruned, err := store.PruneTerminalBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = store.Load(ctx, "run-done")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)

	// The suspended run outlives any cutoff.
	_, err = store.Load(ctx, "run-active")
	assert.NoError(t, err)
}

func TestSQLiteStore_PruneTerminalBefore_RespectsCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := suspendedRun("run-done")
	done.Suspended = false
	done.Stage = models.StageComplete
	require.NoError(t, store.Save(ctx, done))

	pruned, err := store.PruneTerminalBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
