package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые ошибки доменного слоя. Обработчики HTTP сопоставляют их со статусами.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("match request %w", ErrNotFound)
	ErrUsernameTaken   = fmt.Errorf("username already taken: %w", ErrConflict)
	ErrSlugTaken       = fmt.Errorf("slug already taken: %w", ErrConflict)
)

// FieldProblem описывает одно нарушение правил валидации.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError - входные данные не прошли проверку. Ошибка клиента, не сбой.
type ValidationError struct {
	Problems []FieldProblem
}

// NewValidationError создаёт ошибку с одним нарушением.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Problems: []FieldProblem{{Field: field, Message: message}}}
}

// Add добавляет нарушение.
func (e *ValidationError) Add(field, message string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: message})
}

// HasProblems сообщает, есть ли хотя бы одно нарушение.
func (e *ValidationError) HasProblems() bool {
	return e != nil && len(e.Problems) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StorageError - сбой нижележащего хранилища. Ядро не повторяет такие операции.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError оборачивает ошибку драйвера.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation сообщает, является ли err ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage сообщает, является ли err сбоем хранилища.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
