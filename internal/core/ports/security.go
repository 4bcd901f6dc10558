package ports

// PasswordHasher - одностороннее преобразование секрета без возможности восстановления.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify сравнивает за постоянное время.
	Verify(password, encoded string) bool
}
