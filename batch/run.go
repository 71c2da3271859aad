package batch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a recalculation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "completed_with_errors"
	RunFailed    RunStatus = "failed"
)

// Run records one period-wide recalculation.
type Run struct {
	ID          string
	PeriodID    int64
	Status      RunStatus
	Saved       int
	Skipped     int // overridden balances, left untouched
	Failed      int
	Error       string // first failures, for display
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists runs. SaveRun inserts or replaces by ID.
type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	// ListRuns returns runs newest first. periodID 0 lists every period.
	ListRuns(ctx context.Context, periodID int64) ([]Run, error)
}

// =============================================================================
// MEMORY RUN STORE
// =============================================================================

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func (m *MemoryRunStore) SaveRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *MemoryRunStore) ListRuns(_ context.Context, periodID int64) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Run
	for _, r := range m.runs {
		if periodID == 0 || r.PeriodID == periodID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
