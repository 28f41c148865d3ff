package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Flowy/internal/domain"
)

// PostgresSchema: схема таблицы экземпляров.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 UUID PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version TEXT NOT NULL,
	status             TEXT NOT NULL,
	context            JSONB NOT NULL DEFAULT '{}',
	business_key       TEXT,
	current_step_id    TEXT,
	history            JSONB NOT NULL DEFAULT '[]',
	error_details      TEXT,
	retry_attempts     INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL,
	step_started_at    TIMESTAMPTZ,
	scheduled_at       TIMESTAMPTZ,
	signals            JSONB NOT NULL DEFAULT '[]',
	waiting_for_signal BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_due ON workflow_instances (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_business_key ON workflow_instances (definition_id, business_key);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_failed ON workflow_instances (status, updated_at DESC);
`

const postgresColumns = `id, definition_id, definition_version, status, context, business_key,
	current_step_id, history, error_details, retry_attempts, version, step_started_at,
	scheduled_at, signals, waiting_for_signal, created_at, updated_at`

// PostgresStore: хранилище на PostgreSQL (pgxpool).
type PostgresStore struct {
	pool *pgxpool.Pool
	now  Clock
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore создаёт хранилище поверх пула.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, now: o.now}
}

// Migrate создаёт таблицу и индексы, если их нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Save сохраняет экземпляр с проверкой версии.
func (s *PostgresStore) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	updatedAt := s.now()

	rec, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	var query string
	var args []any

	if inst.Version == 0 {
		query = `
			INSERT INTO workflow_instances (` + postgresColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING
		`
		args = []any{
			rec.ID, rec.DefinitionID, rec.DefinitionVersion, rec.Status, rec.Context,
			rec.BusinessKey, rec.CurrentStepID, rec.History, rec.ErrorDetails, rec.RetryAttempts,
			rec.StepStartedAt, rec.ScheduledAt, rec.Signals, rec.WaitingForSignal,
			rec.CreatedAt, updatedAt,
		}
	} else {
		query = `
			UPDATE workflow_instances
			SET status = $3, context = $4, business_key = $5, current_step_id = $6,
			    history = $7, error_details = $8, retry_attempts = $9, version = version + 1,
			    step_started_at = $10, scheduled_at = $11, signals = $12,
			    waiting_for_signal = $13, updated_at = $14
			WHERE id = $1 AND version = $2
		`
		args = []any{
			rec.ID, rec.Version, rec.Status, rec.Context,
			rec.BusinessKey, rec.CurrentStepID, rec.History, rec.ErrorDetails, rec.RetryAttempts,
			rec.StepStartedAt, rec.ScheduledAt, rec.Signals, rec.WaitingForSignal, updatedAt,
		}
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}

	inst.Version++
	inst.UpdatedAt = updatedAt
	return nil
}

// Find возвращает экземпляр по ID.
func (s *PostgresStore) Find(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	query := `SELECT ` + postgresColumns + ` FROM workflow_instances WHERE id = $1`
	return scanPostgres(s.pool.QueryRow(ctx, query, id))
}

// FindByBusinessKey возвращает самый ранний экземпляр с бизнес-ключом.
func (s *PostgresStore) FindByBusinessKey(ctx context.Context, definitionID, businessKey string) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + postgresColumns + `
		FROM workflow_instances
		WHERE definition_id = $1 AND business_key = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	return scanPostgres(s.pool.QueryRow(ctx, query, definitionID, businessKey))
}

// FindInstancesByStatus возвращает экземпляры в статусе.
func (s *PostgresStore) FindInstancesByStatus(ctx context.Context, q StatusQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	query := `
		SELECT ` + postgresColumns + `
		FROM workflow_instances
		WHERE status = $1 AND ($2::text IS NULL OR definition_id = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`
	return s.query(ctx, query, q.Status.String(), nullString(q.DefinitionID), q.Limit, max(q.Offset, 0))
}

// FindDueForProcessing возвращает экземпляры, которые пора обработать.
func (s *PostgresStore) FindDueForProcessing(ctx context.Context, limit int) ([]*domain.WorkflowInstance, error) {
	if limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	query := `
		SELECT ` + postgresColumns + `
		FROM workflow_instances
		WHERE (status = 'PENDING' AND (scheduled_at IS NULL OR scheduled_at <= $1))
		   OR (status = 'RUNNING' AND scheduled_at IS NOT NULL AND scheduled_at <= $1)
		ORDER BY scheduled_at ASC NULLS FIRST, created_at ASC, id ASC
		LIMIT $2
	`
	return s.query(ctx, query, s.now(), limit)
}

// FindFailed возвращает FAILED экземпляры для восстановления.
func (s *PostgresStore) FindFailed(ctx context.Context, q FailedQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	query := `
		SELECT ` + postgresColumns + `
		FROM workflow_instances
		WHERE status = 'FAILED'
		  AND ($1::text IS NULL OR definition_id = $1)
		  AND ($2::int <= 0 OR retry_attempts < $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`
	return s.query(ctx, query, nullString(q.DefinitionID), q.MaxRetryAttempts, q.Limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*domain.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []*domain.WorkflowInstance{}
	for rows.Next() {
		inst, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanPostgres(row pgx.Row) (*domain.WorkflowInstance, error) {
	var rec instanceRecord
	err := row.Scan(
		&rec.ID, &rec.DefinitionID, &rec.DefinitionVersion, &rec.Status, &rec.Context,
		&rec.BusinessKey, &rec.CurrentStepID, &rec.History, &rec.ErrorDetails, &rec.RetryAttempts,
		&rec.Version, &rec.StepStartedAt, &rec.ScheduledAt, &rec.Signals, &rec.WaitingForSignal,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return rec.decode()
}
