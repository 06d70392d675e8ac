package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"DiaryPlatform/pkg/validation"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id фиксированы: хеши, посчитанные на клиенте, должны совпадать с серверными
const (
	Memory      uint32 = 64 * 1024
	Iterations  uint32 = 3
	Parallelism uint8  = 4
	KeyLength   uint32 = 32
	SaltLength         = 16

	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var (
	// ErrInvalidSalt соль не декодируется из base64 или имеет неверную длину
	ErrInvalidSalt = errors.New("password: invalid salt")
	// ErrPasswordTooShort пароль короче минимальной длины
	ErrPasswordTooShort = fmt.Errorf("password: must be at least %d characters", MinPasswordLength)
	// ErrPasswordTooLong пароль длиннее максимальной длины
	ErrPasswordTooLong = fmt.Errorf("password: must be at most %d characters", MaxPasswordLength)
)

// Hasher интерфейс для работы с паролями
type Hasher interface {
	GenerateSalt() (string, error)
	HashPassword(password, salt string) (string, error)
	Verify(password, hash, salt string) bool
	ValidateFormat(password string) error
}

// Argon2Hasher реализация Hasher на Argon2id
type Argon2Hasher struct{}

// NewArgon2Hasher создает новый Argon2Hasher
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{}
}

// GenerateSalt генерирует случайную соль и возвращает ее в base64
func (h *Argon2Hasher) GenerateSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// HashPassword считает хеш пароля с солью в base64 и возвращает его в base64
func (h *Argon2Hasher) HashPassword(password, salt string) (string, error) {
	saltBytes, err := decodeSalt(salt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(derive(password, saltBytes)), nil
}

// Verify проверяет пароль против сохраненного хеша. Ошибки декодирования дают false
func (h *Argon2Hasher) Verify(password, hash, salt string) bool {
	saltBytes, err := decodeSalt(salt)
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(expected) != int(KeyLength) {
		return false
	}

	return subtle.ConstantTimeCompare(derive(password, saltBytes), expected) == 1
}

// ValidateFormat проверяет длину пароля в символах
func (h *Argon2Hasher) ValidateFormat(password string) error {
	length := utf8.RuneCountInString(password)
	if length < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if length > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

var encoded = validation.NewValidator()

// ValidateEncoded проверяет, что хеш и соль, пришедшие от клиента, имеют корректный формат
func ValidateEncoded(hash, salt string) error {
	if err := encoded.ValidateBase64Length(salt, "salt", SaltLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSalt, err)
	}
	if err := encoded.ValidateBase64Length(hash, "passwordHash", int(KeyLength)); err != nil {
		return fmt.Errorf("password: invalid hash: %w", err)
	}
	return nil
}

func decodeSalt(salt string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(raw) != SaltLength {
		return nil, ErrInvalidSalt
	}
	return raw, nil
}

func derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, Iterations, Memory, Parallelism, KeyLength)
}
