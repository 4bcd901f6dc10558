// Package security содержит реализации ports.PasswordHasher.
package security

import (
	"errors"
	"fmt"

	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"golang.org/x/crypto/bcrypt"
)

var _ ports.PasswordHasher = (*BcryptHasher)(nil)

// BcryptHasher хэширует пароли с помощью bcrypt.
// Сравнение в bcrypt.CompareHashAndPassword выполняется за постоянное время.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создаёт хэшер; стоимость вне допустимого диапазона заменяется на bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", err
		}
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(password, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}
