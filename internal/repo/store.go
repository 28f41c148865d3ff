// Package repo: хранилища экземпляров workflow.
//
// Все реализации выполняют один контракт (Store):
//   - Save: compare-and-swap по полю Version;
//   - выборки для воркера (FindDueForProcessing) и восстановления (FindFailed).
//
// Реализации: MemoryStore (тесты, встраивание), SQLiteStore (CLI, один узел),
// PostgresStore (production).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Flowy/internal/domain"
)

// Store: контракт хранилища экземпляров.
type Store interface {
	// Save сохраняет экземпляр.
	//
	// Version == 0: вставка нового экземпляра. Иначе обновление, только если
	// сохранённая версия совпадает с inst.Version. При успехе inst.Version
	// увеличивается, inst.UpdatedAt обновляется. Несовпадение → ErrConflict.
	Save(ctx context.Context, inst *domain.WorkflowInstance) error

	// Find возвращает экземпляр по ID или ErrNotFound.
	Find(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)

	// FindByBusinessKey возвращает самый ранний экземпляр определения
	// с данным бизнес-ключом или ErrNotFound.
	FindByBusinessKey(ctx context.Context, definitionID, businessKey string) (*domain.WorkflowInstance, error)

	// FindInstancesByStatus возвращает экземпляры в статусе, по createdAt ASC.
	FindInstancesByStatus(ctx context.Context, q StatusQuery) ([]*domain.WorkflowInstance, error)

	// FindDueForProcessing возвращает экземпляры, которые пора обработать:
	// PENDING без расписания или с наступившим scheduledAt, RUNNING с
	// наступившим scheduledAt. Порядок: scheduledAt ASC NULLS FIRST, createdAt ASC.
	FindDueForProcessing(ctx context.Context, limit int) ([]*domain.WorkflowInstance, error)

	// FindFailed возвращает FAILED экземпляры для восстановления, по updatedAt DESC.
	FindFailed(ctx context.Context, q FailedQuery) ([]*domain.WorkflowInstance, error)
}

// StatusQuery: параметры FindInstancesByStatus.
type StatusQuery struct {
	Status       domain.WorkflowStatus
	DefinitionID string // пусто = все определения
	Limit        int    // <= 0: пустой результат
	Offset       int
}

// FailedQuery: параметры FindFailed.
type FailedQuery struct {
	DefinitionID string // пусто = все определения

	// MaxRetryAttempts: только экземпляры с RetryAttempts < MaxRetryAttempts.
	// <= 0: без ограничения.
	MaxRetryAttempts int

	Limit int // <= 0: пустой результат
}

// Clock: источник текущего времени хранилища.
type Clock func() time.Time

// Option настраивает хранилище.
type Option func(*options)

type options struct {
	now Clock
}

// WithClock подменяет часы (используется в тестах).
func WithClock(now Clock) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
