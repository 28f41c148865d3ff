package repo

import "errors"

// Общие ошибки хранилищ.
var (
	// ErrNotFound: экземпляр не найден.
	ErrNotFound = errors.New("not found")

	// ErrConflict: версия экземпляра устарела: его сохранил кто-то другой.
	// Проигравший гонку должен перечитать экземпляр, а не повторять Save.
	ErrConflict = errors.New("version conflict")
)
