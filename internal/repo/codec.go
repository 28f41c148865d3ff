package repo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Flowy/internal/domain"
)

// instanceRecord: плоское представление экземпляра для SQL хранилищ.
// Context, History и Signals хранятся как JSON.
type instanceRecord struct {
	ID                uuid.UUID
	DefinitionID      string
	DefinitionVersion string
	Status            string
	Context           []byte
	BusinessKey       *string
	CurrentStepID     *string
	History           []byte
	ErrorDetails      *string
	RetryAttempts     int
	Version           int
	StepStartedAt     *time.Time
	ScheduledAt       *time.Time
	Signals           []byte
	WaitingForSignal  bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func encodeInstance(inst *domain.WorkflowInstance) (*instanceRecord, error) {
	wctx := inst.Context
	if wctx == nil {
		wctx = domain.EmptyContext()
	}
	contextJSON, err := json.Marshal(wctx)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	history := inst.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}

	signals := inst.Signals
	if signals == nil {
		signals = []domain.Signal{}
	}
	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("marshal signals: %w", err)
	}

	return &instanceRecord{
		ID:                inst.ID,
		DefinitionID:      inst.DefinitionID,
		DefinitionVersion: inst.DefinitionVersion,
		Status:            inst.Status.String(),
		Context:           contextJSON,
		BusinessKey:       nullString(inst.BusinessKey),
		CurrentStepID:     nullString(inst.CurrentStepID),
		History:           historyJSON,
		ErrorDetails:      nullString(inst.ErrorDetails),
		RetryAttempts:     inst.RetryAttempts,
		Version:           inst.Version,
		StepStartedAt:     inst.StepStartedAt,
		ScheduledAt:       inst.ScheduledAt,
		Signals:           signalsJSON,
		WaitingForSignal:  inst.WaitingForSignal,
		CreatedAt:         inst.CreatedAt,
		UpdatedAt:         inst.UpdatedAt,
	}, nil
}

func (r *instanceRecord) decode() (*domain.WorkflowInstance, error) {
	status, err := domain.ParseWorkflowStatus(r.Status)
	if err != nil {
		return nil, err
	}

	inst := &domain.WorkflowInstance{
		ID:                r.ID,
		DefinitionID:      r.DefinitionID,
		DefinitionVersion: r.DefinitionVersion,
		Status:            status,
		Context:           domain.EmptyContext(),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		BusinessKey:       derefString(r.BusinessKey),
		CurrentStepID:     derefString(r.CurrentStepID),
		History:           []domain.HistoryEntry{},
		ErrorDetails:      derefString(r.ErrorDetails),
		RetryAttempts:     r.RetryAttempts,
		Version:           r.Version,
		StepStartedAt:     r.StepStartedAt,
		ScheduledAt:       r.ScheduledAt,
		Signals:           []domain.Signal{},
		WaitingForSignal:  r.WaitingForSignal,
	}

	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, inst.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if len(r.History) > 0 {
		if err := json.Unmarshal(r.History, &inst.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	if len(r.Signals) > 0 {
		if err := json.Unmarshal(r.Signals, &inst.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	return inst, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
