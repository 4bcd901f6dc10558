package domain

import "github.com/google/uuid"

// IDSet - множество идентификаторов пользователей.
// Порядок элементов не имеет значения, дубликаты не допускаются.
type IDSet []uuid.UUID

// NewIDSet строит множество, отбрасывая дубликаты.
func NewIDSet(ids ...uuid.UUID) IDSet {
	s := make(IDSet, 0, len(ids))
	for _, id := range ids {
		s = s.Add(id)
	}
	return s
}

// Contains сообщает, входит ли id в множество.
func (s IDSet) Contains(id uuid.UUID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add возвращает множество с добавленным id (семантика $addToSet).
func (s IDSet) Add(id uuid.UUID) IDSet {
	if s.Contains(id) {
		return s
	}
	return append(s, id)
}

// Remove возвращает множество без id (семантика $pull).
func (s IDSet) Remove(id uuid.UUID) IDSet {
	out := make(IDSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Clone возвращает независимую копию множества. Пустое множество остаётся не-nil.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	copy(out, s)
	return out
}

// Strings возвращает текстовое представление id, удобное для массивов Postgres.
func (s IDSet) Strings() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = id.String()
	}
	return out
}

// ParseIDSet разбирает текстовые id; невалидные значения пропускаются.
func ParseIDSet(values []string) IDSet {
	s := make(IDSet, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		s = s.Add(id)
	}
	return s
}
