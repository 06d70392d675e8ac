package memory

import (
	"context"
	"sync"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"
)

// UserRepository хранит пользователей в памяти процесса
//
// Наружу отдаются копии, чтобы вызывающий код не менял состояние в обход репозитория
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.WebUser
	now   func() time.Time
}

// NewUserRepository создает пустой UserRepository
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[string]*domain.WebUser),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) CreateUser(_ context.Context, user *domain.WebUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return repository.ErrAlreadyExists
	}
	username := domain.NormalizeUsername(user.Username)
	for _, existing := range r.users {
		if existing.Username == username && existing.SponsorID == user.SponsorID {
			return repository.ErrAlreadyExists
		}
	}

	stored := copyUser(user)
	stored.Username = username
	r.users[user.ID] = stored
	return nil
}

func (r *UserRepository) GetUserByUsername(_ context.Context, username, sponsorID string) (*domain.WebUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username = domain.NormalizeUsername(username)
	var found *domain.WebUser
	for _, user := range r.users {
		if user.Username != username || (sponsorID != "" && user.SponsorID != sponsorID) {
			continue
		}
		if found == nil || user.CreatedAt.Before(found.CreatedAt) {
			found = user
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return copyUser(found), nil
}

func (r *UserRepository) GetUserByID(_ context.Context, id string) (*domain.WebUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUser(user), nil
}

func (r *UserRepository) UpdateUser(_ context.Context, user *domain.WebUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}

	user.UpdatedAt = r.now()
	updated := copyUser(user)
	// Имя и дата создания не меняются
	updated.Username = stored.Username
	updated.CreatedAt = stored.CreatedAt
	r.users[user.ID] = updated
	return nil
}

func (r *UserRepository) IncrementFailedAttempts(_ context.Context, id string) (*domain.WebUser, error) {
	return r.mutate(id, func(user *domain.WebUser) {
		user.FailedAttempts++
	})
}

func (r *UserRepository) ResetFailedAttempts(_ context.Context, id string) (*domain.WebUser, error) {
	return r.mutate(id, func(user *domain.WebUser) {
		user.FailedAttempts = 0
		user.LockedUntil = nil
	})
}

func (r *UserRepository) LockAccount(_ context.Context, id string, until time.Time) (*domain.WebUser, error) {
	return r.mutate(id, func(user *domain.WebUser) {
		user.LockedUntil = &until
	})
}

func (r *UserRepository) mutate(id string, apply func(*domain.WebUser)) (*domain.WebUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	apply(user)
	user.UpdatedAt = r.now()
	return copyUser(user), nil
}

func copyUser(user *domain.WebUser) *domain.WebUser {
	clone := *user
	if user.LastLoginAt != nil {
		lastLogin := *user.LastLoginAt
		clone.LastLoginAt = &lastLogin
	}
	if user.LockedUntil != nil {
		lockedUntil := *user.LockedUntil
		clone.LockedUntil = &lockedUntil
	}
	return &clone
}
