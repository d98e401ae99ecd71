// Package checkpoint persists suspended and terminal run state. The
// store is the sole source of truth for suspended runs: a run parked
// for human review must survive process restarts and may be resumed by
// a different worker than the one that parked it.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// SQLiteStore is the sqlite-backed checkpoint store. Concurrent saves
// for distinct run ids do not interfere; saves for the same run id are
// serialized by the orchestrator's per-run lock, so last-writer-wins
// upsert semantics are sufficient here.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a checkpoint store over an open database.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Save durably writes the full run state, overwriting any existing
// checkpoint for the same run id.
func (s *SQLiteStore) Save(ctx context.Context, run *models.InvoiceRun) error {
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run %s: %w", run.RunID, err)
	}

	query := `
		INSERT INTO checkpoints (run_id, state, stage_at_suspend, terminal, halted, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			stage_at_suspend = excluded.stage_at_suspend,
			terminal = excluded.terminal,
			halted = excluded.halted,
			saved_at = excluded.saved_at
	`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID,
		state,
		string(run.Stage),
		run.Stage.IsTerminal(),
		run.Halted,
		time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("Failed to save checkpoint",
			zap.String("run_id", run.RunID),
			zap.Error(err))
		return fmt.Errorf("failed to save checkpoint for run %s: %w", run.RunID, err)
	}

	s.logger.Debug("Checkpoint saved",
		zap.String("run_id", run.RunID),
		zap.String("stage", string(run.Stage)))
	return nil
}

// Load reads the full run state back. Returns ErrCheckpointNotFound
// when no checkpoint exists for the run id.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*models.InvoiceRun, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM checkpoints WHERE run_id = ?", runID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, models.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for run %s: %w", runID, err)
	}

	var run models.InvoiceRun
	if err := json.Unmarshal(state, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run %s: %w", runID, err)
	}
	return &run, nil
}

// Delete removes the checkpoint for a run id. Deleting an absent
// checkpoint is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for run %s: %w", runID, err)
	}
	return nil
}

// ListHalted returns run ids halted in the recoverable posting-failure
// state, oldest first. Runs halted at earlier stages stay queryable but
// are not recovery candidates, so they are excluded here.
func (s *SQLiteStore) ListHalted(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id FROM checkpoints WHERE halted = 1 AND terminal = 0 AND stage_at_suspend = ? ORDER BY saved_at ASC",
		string(models.StagePosting))
	if err != nil {
		return nil, fmt.Errorf("failed to list halted runs: %w", err)
	}
	defer rows.Close()

	var runIDs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		runIDs = append(runIDs, runID)
	}
	return runIDs, rows.Err()
}

// PruneTerminalBefore removes checkpoints of terminal runs saved before
// the cutoff. Audit data lives inside the run record itself, so this
// only reclaims storage after the retention window.
func (s *SQLiteStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE terminal = 1 AND saved_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info("Pruned terminal checkpoints", zap.Int64("count", pruned))
	}
	return pruned, nil
}
