package loader

import "errors"

var (
	// ErrDefinitionLoading: источник определения некорректен.
	ErrDefinitionLoading = errors.New("workflow definition loading failed")

	// ErrMissingKey: отсутствует обязательный ключ.
	ErrMissingKey = errors.New("required key is missing")

	// ErrUnsupportedFormat: расширение файла не поддерживается.
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// LoadError: ошибка загрузки определения с контекстом.
//
// errors.Is(err, ErrDefinitionLoading) истинно для любой LoadError,
// а errors.Is/As по Err позволяет узнать причину.
type LoadError struct {
	Source  string // файл или "builder"
	Field   string // путь к полю, например "steps[1].transitions[0].target"
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *LoadError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	return ErrDefinitionLoading.Error() + ": " + msg
}

// Unwrap возвращает ErrDefinitionLoading и базовую ошибку.
func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDefinitionLoading}
	}
	return []error{ErrDefinitionLoading, e.Err}
}

// NewLoadError создаёт новую ошибку загрузки.
func NewLoadError(source, field, message string, err error) *LoadError {
	return &LoadError{
		Source:  source,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
