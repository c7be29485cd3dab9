package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store abstracts Execution/Entry durability. After Save returns, a
// subsequent Load in the same or another process must return the saved
// execution — this is the only durability guarantee the Engine assumes.
type Store interface {
	// Save upserts execution by ID; it must be atomic per execution (a
	// concurrent Load sees either the old or the new record, never a
	// partial write).
	Save(ctx context.Context, execution *Execution) error

	// Load returns the execution, or (nil, nil) if it does not exist.
	Load(ctx context.Context, id string) (*Execution, error)

	// Record appends one audit entry. Ordering by Timestamp is preserved.
	Record(ctx context.Context, entry *Entry) error

	// Entries returns the ordered Entry sequence for one execution.
	Entries(ctx context.Context, executionID string) ([]*Entry, error)

	// Find queries executions for operational tooling. Any zero-valued
	// Query field is treated as unconstrained.
	Find(ctx context.Context, query Query) ([]*Execution, error)

	// Delete removes an execution and its entries.
	Delete(ctx context.Context, id string) error

	// ExecutionIDs enumerates execution IDs, optionally scoped to one
	// workflow.
	ExecutionIDs(ctx context.Context, workflowID string, limit int) ([]string, error)
}

// Query narrows Store.Find.
type Query struct {
	WorkflowID string
	Status     Status
	Limit      int
}

// MemoryStore is an in-process Store backed by a mutex-guarded map. It is
// the Engine's default backend and the reference implementation the
// concrete backends (internal/store/postgres, internal/store/sqlite) are
// tested against.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	entries    map[string][]*Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*Execution),
		entries:    make(map[string][]*Entry),
	}
}

func (s *MemoryStore) Save(ctx context.Context, execution *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyExecution(execution)
	cp.UpdatedAt = time.Now().UTC()
	if existing, ok := s.executions[cp.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.executions[cp.ID] = cp
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return copyExecution(exec), nil
}

func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[entry.ExecutionID] = append(s.entries[entry.ExecutionID], &cp)
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, executionID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.entries[executionID]
	out := make([]*Entry, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) Find(ctx context.Context, query Query) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	for _, exec := range s.executions {
		if query.WorkflowID != "" && exec.WorkflowID != query.WorkflowID {
			continue
		}
		if query.Status != "" && exec.Status != query.Status {
			continue
		}
		out = append(out, copyExecution(exec))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, id)
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) ExecutionIDs(ctx context.Context, workflowID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var execs []*Execution
	for _, exec := range s.executions {
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		execs = append(execs, exec)
	}
	sort.SliceStable(execs, func(i, j int) bool { return execs[i].CreatedAt.Before(execs[j].CreatedAt) })

	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}

	ids := make([]string, len(execs))
	for i, e := range execs {
		ids[i] = e.ID
	}
	return ids, nil
}

// copyExecution returns a defensive deep-enough copy: Input/Ctx/Result/
// HaltData maps are copied one level so a caller mutating the returned
// Execution can never corrupt the store's own copy.
func copyExecution(e *Execution) *Execution {
	cp := *e
	cp.Input = copyMap(e.Input)
	cp.Ctx = copyMap(e.Ctx)
	cp.Result = copyMap(e.Result)
	cp.HaltData = copyMap(e.HaltData)
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
