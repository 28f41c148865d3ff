package domain

import "fmt"

// WorkflowStatus: статус экземпляра workflow.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	   │         ├──→ PAUSED → RUNNING
//	   │         └──→ FAILED → PENDING (retry)
//	   └──→ CANCELLED (из любого нетерминального, кроме FAILED)
//
// COMPLETED и CANCELLED: терминальные статусы.
type WorkflowStatus string

const (
	// StatusPending: экземпляр создан или ждёт повторной попытки.
	StatusPending WorkflowStatus = "PENDING"

	// StatusRunning: экземпляр выполняется.
	StatusRunning WorkflowStatus = "RUNNING"

	// StatusPaused: выполнение приостановлено оператором.
	StatusPaused WorkflowStatus = "PAUSED"

	// StatusCompleted: workflow дошёл до шага без исходящих переходов.
	StatusCompleted WorkflowStatus = "COMPLETED"

	// StatusFailed: выполнение завершилось ошибкой.
	// Может быть перезапущено через retry.
	StatusFailed WorkflowStatus = "FAILED"

	// StatusCancelled: экземпляр отменён.
	StatusCancelled WorkflowStatus = "CANCELLED"
)

// allowedTransitions: допустимые переходы между статусами.
var allowedTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusFailed:  {StatusPending},
}

// AllStatuses возвращает все статусы в порядке жизненного цикла.
func AllStatuses() []WorkflowStatus {
	return []WorkflowStatus{
		StatusPending,
		StatusRunning,
		StatusPaused,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	}
}

// String возвращает строковое представление статуса.
func (s WorkflowStatus) String() string {
	return string(s)
}

// IsValid возвращает true для известных статусов.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет, разрешён ли переход s → next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseWorkflowStatus парсит строку в WorkflowStatus.
// Регистр учитывается: статусы хранятся в верхнем регистре.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	status := WorkflowStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}
