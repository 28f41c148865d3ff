package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Flowy/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 TEXT PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version TEXT NOT NULL,
	status             TEXT NOT NULL,
	context            BLOB NOT NULL,
	business_key       TEXT,
	current_step_id    TEXT,
	history            BLOB NOT NULL,
	error_details      TEXT,
	retry_attempts     INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL,
	step_started_at    INTEGER,
	scheduled_at       INTEGER,
	signals            BLOB NOT NULL,
	waiting_for_signal INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_due ON workflow_instances (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_business_key ON workflow_instances (definition_id, business_key);
`

const sqliteColumns = `id, definition_id, definition_version, status, context, business_key,
	current_step_id, history, error_details, retry_attempts, version, step_started_at,
	scheduled_at, signals, waiting_for_signal, created_at, updated_at`

// SQLiteStore: хранилище на SQLite (драйвер modernc.org/sqlite, без cgo).
//
// Время хранится как Unix-наносекунды (INTEGER), чтобы сравнения
// в запросах были числовыми.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite открывает базу по пути и создаёт схему.
// ":memory:": база в памяти на одном соединении.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite допускает одного писателя; для :memory: это ещё и одна база.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore создаёт схему в db и возвращает хранилище.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save сохраняет экземпляр с проверкой версии.
func (s *SQLiteStore) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	updatedAt := s.now()

	rec, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	rec.UpdatedAt = updatedAt

	var result sql.Result
	if inst.Version == 0 {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO workflow_instances (`+sqliteColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID.String(), rec.DefinitionID, rec.DefinitionVersion, rec.Status, rec.Context,
			rec.BusinessKey, rec.CurrentStepID, rec.History, rec.ErrorDetails, rec.RetryAttempts,
			unixNano(rec.StepStartedAt), unixNano(rec.ScheduledAt), rec.Signals, rec.WaitingForSignal,
			rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET definition_id = ?, definition_version = ?, status = ?, context = ?, business_key = ?,
			    current_step_id = ?, history = ?, error_details = ?, retry_attempts = ?,
			    version = version + 1, step_started_at = ?, scheduled_at = ?, signals = ?,
			    waiting_for_signal = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			rec.DefinitionID, rec.DefinitionVersion, rec.Status, rec.Context, rec.BusinessKey,
			rec.CurrentStepID, rec.History, rec.ErrorDetails, rec.RetryAttempts,
			unixNano(rec.StepStartedAt), unixNano(rec.ScheduledAt), rec.Signals,
			rec.WaitingForSignal, rec.UpdatedAt.UnixNano(),
			rec.ID.String(), rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	inst.Version++
	inst.UpdatedAt = updatedAt
	return nil
}

// Find возвращает экземпляр по ID.
func (s *SQLiteStore) Find(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM workflow_instances WHERE id = ?`, id.String())
	return scanSQLite(row)
}

// FindByBusinessKey возвращает самый ранний экземпляр с бизнес-ключом.
func (s *SQLiteStore) FindByBusinessKey(ctx context.Context, definitionID, businessKey string) (*domain.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM workflow_instances
		WHERE definition_id = ? AND business_key = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		definitionID, businessKey,
	)
	return scanSQLite(row)
}

// FindInstancesByStatus возвращает экземпляры в статусе.
func (s *SQLiteStore) FindInstancesByStatus(ctx context.Context, q StatusQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	return s.query(ctx, `
		SELECT `+sqliteColumns+`
		FROM workflow_instances
		WHERE status = ? AND (? = '' OR definition_id = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		q.Status.String(), q.DefinitionID, q.DefinitionID, q.Limit, max(q.Offset, 0),
	)
}

// FindDueForProcessing возвращает экземпляры, которые пора обработать.
func (s *SQLiteStore) FindDueForProcessing(ctx context.Context, limit int) ([]*domain.WorkflowInstance, error) {
	if limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	now := s.now().UnixNano()
	return s.query(ctx, `
		SELECT `+sqliteColumns+`
		FROM workflow_instances
		WHERE (status = 'PENDING' AND (scheduled_at IS NULL OR scheduled_at <= ?))
		   OR (status = 'RUNNING' AND scheduled_at IS NOT NULL AND scheduled_at <= ?)
		ORDER BY scheduled_at ASC NULLS FIRST, created_at ASC, id ASC
		LIMIT ?`,
		now, now, limit,
	)
}

// FindFailed возвращает FAILED экземпляры для восстановления.
func (s *SQLiteStore) FindFailed(ctx context.Context, q FailedQuery) ([]*domain.WorkflowInstance, error) {
	if q.Limit <= 0 {
		return []*domain.WorkflowInstance{}, nil
	}
	return s.query(ctx, `
		SELECT `+sqliteColumns+`
		FROM workflow_instances
		WHERE status = 'FAILED'
		  AND (? = '' OR definition_id = ?)
		  AND (? <= 0 OR retry_attempts < ?)
		ORDER BY updated_at DESC
		LIMIT ?`,
		q.DefinitionID, q.DefinitionID, q.MaxRetryAttempts, q.MaxRetryAttempts, q.Limit,
	)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*domain.WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []*domain.WorkflowInstance{}
	for rows.Next() {
		inst, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// rowScanner: общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*domain.WorkflowInstance, error) {
	var (
		rec                              instanceRecord
		id                               string
		stepStartedAt, scheduledAt       sql.NullInt64
		createdAt, updatedAt             int64
		businessKey, currentStep, errMsg sql.NullString
	)

	err := row.Scan(
		&id, &rec.DefinitionID, &rec.DefinitionVersion, &rec.Status, &rec.Context,
		&businessKey, &currentStep, &rec.History, &errMsg, &rec.RetryAttempts,
		&rec.Version, &stepStartedAt, &scheduledAt, &rec.Signals, &rec.WaitingForSignal,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if rec.ID, err = uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, fmt.Errorf("parse instance id: %w", err)
	}
	rec.BusinessKey = nullableString(businessKey)
	rec.CurrentStepID = nullableString(currentStep)
	rec.ErrorDetails = nullableString(errMsg)
	rec.StepStartedAt = fromUnixNano(stepStartedAt)
	rec.ScheduledAt = fromUnixNano(scheduledAt)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return rec.decode()
}

func unixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
