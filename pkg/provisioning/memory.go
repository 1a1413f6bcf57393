package provisioning

import (
	"context"
	"sync"
	"time"
)

// MemoryRunStore implements RunStore in memory for unit tests and embedded
// deployments
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

func copyRun(r *Run) *Run {
	dup := *r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return &dup
}

// InsertOrFetch inserts a pending run for the key if none exists
func (s *MemoryRunStore) InsertOrFetch(ctx context.Context, key string) (*Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[key]; ok {
		return copyRun(run), false, nil
	}

	run := &Run{
		IdempotencyKey: key,
		Status:         StatusPending,
		StartedAt:      time.Now().UTC(),
	}
	s.runs[key] = run
	return copyRun(run), true, nil
}

// Get returns the run for a key, or nil when absent
func (s *MemoryRunStore) Get(ctx context.Context, key string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[key]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

// RecordProgress persists step outputs on a pending run
func (s *MemoryRunStore) RecordProgress(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.IdempotencyKey]
	if !ok || stored.Status != StatusPending {
		return nil
	}
	stored.OrgNodeID = run.OrgNodeID
	stored.TeamNodeID = run.TeamNodeID
	stored.ConfigVersion = run.ConfigVersion
	stored.TokenID = run.TokenID
	stored.TokenPrefix = run.TokenPrefix
	return nil
}

// MarkCompleted transitions a run to completed
func (s *MemoryRunStore) MarkCompleted(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.IdempotencyKey]
	if !ok {
		return nil
	}
	completedAt := time.Now().UTC()
	stored.Status = StatusCompleted
	stored.OrgNodeID = run.OrgNodeID
	stored.TeamNodeID = run.TeamNodeID
	stored.ConfigVersion = run.ConfigVersion
	stored.TokenID = run.TokenID
	stored.TokenPrefix = run.TokenPrefix
	stored.FailedStep = ""
	stored.FailureReason = ""
	stored.CompletedAt = &completedAt

	run.Status = StatusCompleted
	run.CompletedAt = &completedAt
	return nil
}

// MarkFailed transitions a run to failed
func (s *MemoryRunStore) MarkFailed(ctx context.Context, key, step, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[key]
	if !ok {
		return nil
	}
	completedAt := time.Now().UTC()
	stored.Status = StatusFailed
	stored.FailedStep = step
	stored.FailureReason = reason
	stored.CompletedAt = &completedAt
	return nil
}

// ReclaimStuck marks runs pending since before cutoff as failed
func (s *MemoryRunStore) ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, run := range s.runs {
		if run.Status == StatusPending && run.StartedAt.Before(cutoff) {
			completedAt := time.Now().UTC()
			run.Status = StatusFailed
			run.FailedStep = StepReclaimed
			run.FailureReason = "run stuck pending past deadline"
			run.CompletedAt = &completedAt
			reclaimed++
		}
	}
	return reclaimed, nil
}
