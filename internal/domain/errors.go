package domain

import "errors"

// Ошибки состояния экземпляра.
var (
	// ErrUnknownStatus: строка не является известным статусом.
	ErrUnknownStatus = errors.New("unknown workflow status")

	// ErrInvalidTransition: недопустимый переход между статусами.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ошибки контекста.
var (
	// ErrInvalidContextKey: ключ контекста пустой.
	ErrInvalidContextKey = errors.New("context key must be a non-empty string")

	// ErrInvalidContextValue: значение нельзя сериализовать в JSON.
	ErrInvalidContextValue = errors.New("context value is not JSON-serializable")
)

// Ошибки политик и длительностей.
var (
	// ErrInvalidRetryPolicy: параметры RetryPolicy вне допустимых границ.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrInvalidAttempt: номер попытки меньше 1.
	ErrInvalidAttempt = errors.New("retry attempt must be >= 1")

	// ErrInvalidDuration: строка не является ISO-8601 длительностью.
	ErrInvalidDuration = errors.New("invalid ISO-8601 duration")
)

// ErrInvalidDefinition: определение workflow нарушает инварианты.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// DefinitionError: ошибка валидации определения с контекстом.
type DefinitionError struct {
	DefinitionID string // ID определения
	StepID       string // ID шага, где произошла ошибка
	Message      string // описание ошибки
	Err          error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *DefinitionError) Error() string {
	prefix := "workflow " + e.DefinitionID
	if e.StepID != "" {
		prefix += ", step " + e.StepID
	}
	return prefix + ": " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *DefinitionError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidDefinition
	}
	return e.Err
}

// Is позволяет errors.Is(err, ErrInvalidDefinition) для любой DefinitionError.
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

func newDefinitionError(defID, stepID, message string, err error) *DefinitionError {
	return &DefinitionError{
		DefinitionID: defID,
		StepID:       stepID,
		Message:      message,
		Err:          err,
	}
}
