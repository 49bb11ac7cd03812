package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/campaign-gateway/internal/storage"
)

// Store is an in-memory RunStore. Runs are copied on the way in and out so
// callers never share a record with the store.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*storage.Run
	now  func() time.Time
}

var _ storage.RunStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		runs: make(map[string]*storage.Run),
		now:  time.Now,
	}
}

func cloneRun(r *storage.Run) *storage.Run {
	c := *r
	c.Stages = append([]storage.StageTrace(nil), r.Stages...)
	return &c
}

func (s *Store) Create(ctx context.Context, run *storage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	now := s.now()
	run.CreatedAt = now
	run.UpdatedAt = now
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) Update(ctx context.Context, run *storage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.ID]
	if !exists {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}

	run.CreatedAt = existing.CreatedAt
	run.UpdatedAt = s.now()
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return cloneRun(run), nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.Run, 0, len(s.runs))
	for _, run := range s.runs {
		result = append(result, cloneRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
