package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

type fakeRecoveryService struct {
	mu        sync.Mutex
	recovered []string
	recoverBy map[string]error
	evictions int
}

func (f *fakeRecoveryService) Recover(_ context.Context, runID string) (*models.InvoiceRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.recoverBy[runID]; ok && err != nil {
		return nil, err
	}
	f.recovered = append(f.recovered, runID)
	return &models.InvoiceRun{RunID: runID, Stage: models.StageComplete}, nil
}

func (f *fakeRecoveryService) EvictTerminal(time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictions++
	return 0
}

type fakeHaltedLister struct {
	mu     sync.Mutex
	halted []string
	pruned int
}

func (f *fakeHaltedLister) ListHalted(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.halted...), nil
}

func (f *fakeHaltedLister) PruneTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	return 0, nil
}

func TestRecoverySweeper_SweepRecoversHaltedRuns(t *testing.T) {
	service := &fakeRecoveryService{
		recoverBy: map[string]error{"run-3": models.ErrRunNotRecoverable},
	}
	store := &fakeHaltedLister{halted: []string{"run-1", "run-2", "run-3"}}

	sweeper := NewRecoverySweeper(service, store, time.Hour, time.Hour, 2, zap.NewNop())
	sweeper.sweep(context.Background())

	service.mu.Lock()
	defer service.mu.Unlock()
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, service.recovered)
	assert.Equal(t, 1, service.evictions)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.pruned)
}

func TestRecoverySweeper_StartStop(t *testing.T) {
	service := &fakeRecoveryService{}
	store := &fakeHaltedLister{}

	sweeper := NewRecoverySweeper(service, store, 5*time.Millisecond, time.Hour, 1, zap.NewNop())
	require.NoError(t, sweeper.Start(context.Background()))

	// Starting twice is a no-op.
	require.NoError(t, sweeper.Start(context.Background()))

	time.Sleep(25 * time.Millisecond)
	sweeper.Stop()

	store.mu.Lock()
	swept := store.pruned
	store.mu.Unlock()
	assert.Greater(t, swept, 0)

	// Stop is idempotent and the loop has exited.
	sweeper.Stop()
}

func TestRecoverySweeper_Name(t *testing.T) {
	sweeper := NewRecoverySweeper(&fakeRecoveryService{}, &fakeHaltedLister{}, time.Minute, time.Hour, 1, zap.NewNop())
	assert.Equal(t, "recovery-sweeper", sweeper.Name())
}
