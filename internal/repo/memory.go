package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Flowy/internal/domain"
)

// MemoryStore: хранилище в памяти процесса.
//
// Хранит копии экземпляров: изменения объекта вызывающего не видны
// до следующего Save.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*domain.WorkflowInstance
	now       Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		instances: make(map[uuid.UUID]*domain.WorkflowInstance),
		now:       o.now,
	}
}

// Save сохраняет экземпляр с проверкой версии.
func (s *MemoryStore) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.instances[inst.ID]
	switch {
	case inst.Version == 0 && exists:
		return ErrConflict
	case inst.Version > 0 && (!exists || stored.Version != inst.Version):
		return ErrConflict
	}

	inst.Version++
	inst.UpdatedAt = s.now()
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// Find возвращает экземпляр по ID.
func (s *MemoryStore) Find(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[id]
	if !exists {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

// FindByBusinessKey возвращает самый ранний экземпляр с бизнес-ключом.
func (s *MemoryStore) FindByBusinessKey(ctx context.Context, definitionID, businessKey string) (*domain.WorkflowInstance, error) {
	matches, err := s.filter(ctx, func(inst *domain.WorkflowInstance) bool {
		return inst.DefinitionID == definitionID && inst.BusinessKey == businessKey
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 || businessKey == "" {
		return nil, ErrNotFound
	}
	sortByCreated(matches)
	return matches[0], nil
}

// FindInstancesByStatus возвращает экземпляры в статусе.
func (s *MemoryStore) FindInstancesByStatus(ctx context.Context, q StatusQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	matches, err := s.filter(ctx, func(inst *domain.WorkflowInstance) bool {
		return inst.Status == q.Status && (q.DefinitionID == "" || inst.DefinitionID == q.DefinitionID)
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(matches)
	return page(matches, q.Offset, q.Limit), nil
}

// FindDueForProcessing возвращает экземпляры, которые пора обработать.
func (s *MemoryStore) FindDueForProcessing(ctx context.Context, limit int) ([]*domain.WorkflowInstance, error) {
	if limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	now := s.now()
	matches, err := s.filter(ctx, func(inst *domain.WorkflowInstance) bool {
		return inst.IsDue(now)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].ScheduledAt, matches[j].ScheduledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return createdBefore(matches[i], matches[j])
	})
	return page(matches, 0, limit), nil
}

// FindFailed возвращает FAILED экземпляры для восстановления.
func (s *MemoryStore) FindFailed(ctx context.Context, q FailedQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	matches, err := s.filter(ctx, func(inst *domain.WorkflowInstance) bool {
		if inst.Status != domain.StatusFailed {
			return false
		}
		if q.DefinitionID != "" && inst.DefinitionID != q.DefinitionID {
			return false
		}
		return q.MaxRetryAttempts <= 0 || inst.RetryAttempts < q.MaxRetryAttempts
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	return page(matches, 0, q.Limit), nil
}

// Len возвращает количество экземпляров.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func (s *MemoryStore) filter(ctx context.Context, match func(*domain.WorkflowInstance) bool) ([]*domain.WorkflowInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.WorkflowInstance
	for _, inst := range s.instances {
		if match(inst) {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

func sortByCreated(list []*domain.WorkflowInstance) {
	sort.SliceStable(list, func(i, j int) bool {
		return createdBefore(list[i], list[j])
	})
}

// createdBefore: порядок createdAt ASC, при равенстве по ID.
func createdBefore(a, b *domain.WorkflowInstance) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func page(list []*domain.WorkflowInstance, offset, limit int) []*domain.WorkflowInstance {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []*domain.WorkflowInstance{}
	}
	list = list[offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}
