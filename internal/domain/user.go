// internal/domain/user.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultProfileImage - аватар, который получает пользователь без загруженного файла.
// Никогда не удаляется из файлового хранилища.
const DefaultProfileImage = "default.svg"

// Границы атрибутов профиля
const (
	UsernameMinLen    = 3
	UsernameMaxLen    = 16
	MinAge            = 13
	MaxAge            = 120
	DescriptionMaxLen = 500
)

// User представляет модель пользователя в системе вместе с его связями.
// Соответствует таблице 'users' в базе данных.
type User struct {
	ID               uuid.UUID `json:"id"`
	Username         string    `json:"username"`
	Slug             string    `json:"slug"`
	PasswordHash     string    `json:"-"`
	ProfileImage     string    `json:"profile_image"`
	Description      string    `json:"description"`
	Age              int       `json:"age"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Partners         IDSet     `json:"partners"`
	OutgoingRequests IDSet     `json:"outgoing_requests"`
	IncomingRequests IDSet     `json:"incoming_requests"`
}

// RelationField - имя одного из трёх множеств связей пользователя.
type RelationField string

const (
	FieldPartners         RelationField = "partners"
	FieldOutgoingRequests RelationField = "outgoing_requests"
	FieldIncomingRequests RelationField = "incoming_requests"
)

// RelationFields - все множества связей в фиксированном порядке.
var RelationFields = []RelationField{FieldPartners, FieldOutgoingRequests, FieldIncomingRequests}

// Valid сообщает, является ли поле одним из известных множеств связей.
func (f RelationField) Valid() bool {
	switch f {
	case FieldPartners, FieldOutgoingRequests, FieldIncomingRequests:
		return true
	}
	return false
}

// Relation возвращает указатель на множество, соответствующее полю.
func (u *User) Relation(field RelationField) *IDSet {
	switch field {
	case FieldPartners:
		return &u.Partners
	case FieldOutgoingRequests:
		return &u.OutgoingRequests
	case FieldIncomingRequests:
		return &u.IncomingRequests
	}
	return nil
}

// IsPartner сообщает, является ли id подтверждённым партнёром пользователя.
func (u *User) IsPartner(id uuid.UUID) bool {
	return u.Partners.Contains(id)
}

// HasRequested сообщает, отправил ли пользователь запрос пользователю id.
func (u *User) HasRequested(id uuid.UUID) bool {
	return u.OutgoingRequests.Contains(id)
}

// RelatedIDs возвращает сам id пользователя и все id из его трёх множеств.
// Используется для исключения уже связанных пользователей из подбора.
func (u *User) RelatedIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, 1+len(u.Partners)+len(u.OutgoingRequests)+len(u.IncomingRequests))
	out = append(out, u.ID)
	out = append(out, u.Partners...)
	out = append(out, u.OutgoingRequests...)
	out = append(out, u.IncomingRequests...)
	return out
}

// IsDefaultImage сообщает, использует ли пользователь аватар по умолчанию.
func IsDefaultImage(ref string) bool {
	return ref == "" || ref == DefaultProfileImage
}

// UserUpdate - частичное обновление скалярных полей пользователя ($set).
// nil-поля не изменяются. ID и CreatedAt изменить нельзя.
type UserUpdate struct {
	Username     *string
	Slug         *string
	PasswordHash *string
	ProfileImage *string
	Description  *string
	Age          *int
}

// Empty сообщает, что обновление ничего не меняет.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Slug == nil && u.PasswordHash == nil &&
		u.ProfileImage == nil && u.Description == nil && u.Age == nil
}

// Apply применяет обновление к копии пользователя в памяти.
func (u UserUpdate) Apply(user *User) {
	if u.Username != nil {
		user.Username = *u.Username
	}
	if u.Slug != nil {
		user.Slug = *u.Slug
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.ProfileImage != nil {
		user.ProfileImage = *u.ProfileImage
	}
	if u.Description != nil {
		user.Description = *u.Description
	}
	if u.Age != nil {
		user.Age = *u.Age
	}
}
