package repository

import (
	"context"
	"errors"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists запись с таким ключом уже существует
	ErrAlreadyExists = errors.New("repository: already exists")
)

// UserRepository интерфейс для работы с пользователями веб-дневника
//
// sponsorID == "" в GetUserByUsername означает поиск среди всех спонсоров
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.WebUser) error
	GetUserByUsername(ctx context.Context, username, sponsorID string) (*domain.WebUser, error)
	GetUserByID(ctx context.Context, id string) (*domain.WebUser, error)
	UpdateUser(ctx context.Context, user *domain.WebUser) error
	IncrementFailedAttempts(ctx context.Context, id string) (*domain.WebUser, error)
	ResetFailedAttempts(ctx context.Context, id string) (*domain.WebUser, error)
	LockAccount(ctx context.Context, id string, until time.Time) (*domain.WebUser, error)
}

// SponsorPatternRepository интерфейс для работы с шаблонами кодов привязки
type SponsorPatternRepository interface {
	GetAllActivePatterns(ctx context.Context) ([]*domain.SponsorPattern, error)
	// FindByLinkingCode возвращает ErrNotFound, если ни один активный префикс не подошел
	FindByLinkingCode(ctx context.Context, code string) (*domain.SponsorPattern, error)
	CreatePattern(ctx context.Context, pattern *domain.SponsorPattern) error
	DecommissionPattern(ctx context.Context, sponsorID string) error
	RefreshCache(ctx context.Context) error
}
