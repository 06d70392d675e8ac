package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DiaryPlatform/pkg/database"
	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, password_hash, salt, sponsor_id, sponsor_url, linking_code, app_uuid,
	created_at, updated_at, last_login_at, failed_attempts, locked_until`

// UserRepository реализация репозитория пользователей для PostgreSQL
type UserRepository struct {
	*BaseRepository
	now func() time.Time
}

// NewUserRepository создает новый экземпляр UserRepository
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{
		BaseRepository: NewBaseRepository(db),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.UserRepository = (*UserRepository)(nil)

// CreateUser сохраняет нового пользователя в базе данных
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.WebUser) error {
	query := `INSERT INTO web_users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.ExecContext(ctx, query,
		user.ID,
		domain.NormalizeUsername(user.Username),
		user.PasswordHash,
		user.Salt,
		user.SponsorID,
		user.SponsorURL,
		user.LinkingCode,
		user.AppUUID,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
		user.FailedAttempts,
		user.LockedUntil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByUsername возвращает пользователя по имени, sponsorID "" означает любого спонсора
func (r *UserRepository) GetUserByUsername(ctx context.Context, username, sponsorID string) (*domain.WebUser, error) {
	query := `SELECT ` + userColumns + ` FROM web_users
		WHERE username = $1 AND ($2::text = '' OR sponsor_id = $2)
		ORDER BY created_at
		LIMIT 1`

	user, err := scanUser(r.QueryRowContext(ctx, query, domain.NormalizeUsername(username), sponsorID))
	if err != nil {
		return nil, wrapNotFound(err, "failed to get user by username")
	}
	return user, nil
}

// GetUserByID возвращает пользователя по его ID
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.WebUser, error) {
	query := `SELECT ` + userColumns + ` FROM web_users WHERE id = $1`

	user, err := scanUser(r.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapNotFound(err, "failed to get user by id")
	}
	return user, nil
}

// UpdateUser обновляет изменяемые поля пользователя
func (r *UserRepository) UpdateUser(ctx context.Context, user *domain.WebUser) error {
	query := `UPDATE web_users SET
		password_hash = $2,
		salt = $3,
		sponsor_id = $4,
		sponsor_url = $5,
		linking_code = $6,
		app_uuid = $7,
		last_login_at = $8,
		failed_attempts = $9,
		locked_until = $10,
		updated_at = $11
	WHERE id = $1`

	user.UpdatedAt = r.now()
	result, err := r.ExecContext(ctx, query,
		user.ID,
		user.PasswordHash,
		user.Salt,
		user.SponsorID,
		user.SponsorURL,
		user.LinkingCode,
		user.AppUUID,
		user.LastLoginAt,
		user.FailedAttempts,
		user.LockedUntil,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementFailedAttempts атомарно увеличивает счетчик неудачных попыток
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id string) (*domain.WebUser, error) {
	query := `UPDATE web_users SET failed_attempts = failed_attempts + 1, updated_at = $2
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.QueryRowContext(ctx, query, id, r.now()))
	if err != nil {
		return nil, wrapNotFound(err, "failed to increment failed attempts")
	}
	return user, nil
}

// ResetFailedAttempts обнуляет счетчик неудачных попыток и снимает блокировку
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id string) (*domain.WebUser, error) {
	query := `UPDATE web_users SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.QueryRowContext(ctx, query, id, r.now()))
	if err != nil {
		return nil, wrapNotFound(err, "failed to reset failed attempts")
	}
	return user, nil
}

// LockAccount блокирует вход до момента until
func (r *UserRepository) LockAccount(ctx context.Context, id string, until time.Time) (*domain.WebUser, error) {
	query := `UPDATE web_users SET locked_until = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.QueryRowContext(ctx, query, id, until, r.now()))
	if err != nil {
		return nil, wrapNotFound(err, "failed to lock account")
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.WebUser, error) {
	var user domain.WebUser
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Salt,
		&user.SponsorID,
		&user.SponsorURL,
		&user.LinkingCode,
		&user.AppUUID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
		&user.FailedAttempts,
		&user.LockedUntil,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func wrapNotFound(err error, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("%s: %w", message, err)
}
