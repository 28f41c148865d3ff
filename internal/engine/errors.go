package engine

import (
	"errors"
	"fmt"
)

// Ошибки движка.
var (
	// ErrInstanceNotFound: экземпляр не найден в хранилище.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepNotFound: текущий шаг отсутствует в определении.
	ErrStepNotFound = errors.New("step not found in definition")

	// ErrActionFailed: действие шага завершилось ошибкой, повторов не осталось.
	ErrActionFailed = errors.New("action failed")

	// ErrInvalidState: операция невозможна в текущем статусе экземпляра.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrDuplicateBusinessKey: экземпляр с таким бизнес-ключом уже существует.
	ErrDuplicateBusinessKey = errors.New("duplicate business key")

	// ErrInvalidSignal: пустое имя сигнала или несериализуемый payload.
	ErrInvalidSignal = errors.New("invalid signal")
)

// errPersist помечает ошибки сохранения: экземпляр по ним не переводится в FAILED.
var errPersist = errors.New("persist instance")

// ActionError: сбой действия, после которого экземпляр переведён в FAILED.
type ActionError struct {
	StepID  string // шаг, в котором выполнялось действие
	Action  string // имя действия
	Attempt int    // номер неудачной попытки
	Err     error  // исходная ошибка действия
}

// Error реализует интерфейс error.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: step %s, action %s (attempt %d): %v",
		ErrActionFailed, e.StepID, e.Action, e.Attempt, e.Err)
}

// Unwrap возвращает ErrActionFailed и исходную ошибку.
func (e *ActionError) Unwrap() []error {
	return []error{ErrActionFailed, e.Err}
}
