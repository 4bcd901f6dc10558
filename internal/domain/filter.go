package domain

import "github.com/google/uuid"

// SortField - поле сортировки при поиске пользователей.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByAge       SortField = "age"
)

// UserFilter - предикат выборки пользователей для хранилища.
type UserFilter struct {
	// UsernameContains - подстрока имени без учёта регистра.
	UsernameContains string
	// MinAge, MaxAge - 0 означает отсутствие границы.
	MinAge int
	MaxAge int
	// OnlyIDs ограничивает выборку множеством IDs (пустое IDs даёт пустой результат).
	OnlyIDs    bool
	IDs        []uuid.UUID
	ExcludeIDs []uuid.UUID
	SortField  SortField
	Ascending  bool
	Limit      int
}

// Normalize подставляет сортировку по умолчанию: сначала новые.
func (f UserFilter) Normalize() UserFilter {
	if f.SortField != SortByAge && f.SortField != SortByCreatedAt {
		f.SortField = SortByCreatedAt
		f.Ascending = false
	}
	if f.Limit < 0 {
		f.Limit = 0
	}
	return f
}
