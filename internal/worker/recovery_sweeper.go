package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// RecoveryService is the slice of the orchestrator the sweeper drives.
type RecoveryService interface {
	Recover(ctx context.Context, runID string) (*models.InvoiceRun, error)
	EvictTerminal(cutoff time.Time) int
}

// HaltedLister enumerates runs halted in the recoverable
// posting-failure state and prunes expired terminal checkpoints.
type HaltedLister interface {
	ListHalted(ctx context.Context) ([]string, error)
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecoverySweeper periodically re-attempts posting-failed runs and
// prunes checkpoints of terminal runs past the retention window.
// Recovery attempts are bounded by a semaphore so a backlog of halted
// runs cannot monopolize the process.
type RecoverySweeper struct {
	service   RecoveryService
	store     HaltedLister
	interval  time.Duration
	retention time.Duration
	sem       *semaphore.Weighted
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecoverySweeper creates the sweeper.
func NewRecoverySweeper(
	service RecoveryService,
	store HaltedLister,
	interval, retention time.Duration,
	maxConcurrent int64,
	logger *zap.Logger,
) *RecoverySweeper {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RecoverySweeper{
		service:   service,
		store:     store,
		interval:  interval,
		retention: retention,
		sem:       semaphore.NewWeighted(maxConcurrent),
		logger:    logger,
	}
}

// Name implements Worker.
func (s *RecoverySweeper) Name() string { return "recovery-sweeper" }

// Start implements Worker.
func (s *RecoverySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil // already running
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx)
	return nil
}

// Stop implements Worker, blocking until the loop exits.
func (s *RecoverySweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *RecoverySweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one recovery and retention pass.
func (s *RecoverySweeper) sweep(ctx context.Context) {
	runIDs, err := s.store.ListHalted(ctx)
	if err != nil {
		s.logger.Error("Failed to list halted runs", zap.Error(err))
	} else {
		var wg sync.WaitGroup
		for _, runID := range runIDs {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(runID string) {
				defer wg.Done()
				defer s.sem.Release(1)
				s.recover(ctx, runID)
			}(runID)
		}
		wg.Wait()
	}

	cutoff := time.Now().Add(-s.retention)
	if _, err := s.store.PruneTerminalBefore(ctx, cutoff); err != nil {
		s.logger.Error("Failed to prune terminal checkpoints", zap.Error(err))
	}
	s.service.EvictTerminal(cutoff)
}

func (s *RecoverySweeper) recover(ctx context.Context, runID string) {
	run, err := s.service.Recover(ctx, runID)
	switch {
	case err == nil:
		s.logger.Info("Halted run recovered",
			zap.String("run_id", runID),
			zap.String("stage", string(run.Stage)))
	case errors.Is(err, models.ErrRunNotRecoverable):
		// Another worker got there first.
	default:
		s.logger.Warn("Recovery attempt failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}
