package postgres

import (
	"context"
	"errors"

	"DiaryPlatform/pkg/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation код ошибки PostgreSQL для нарушения уникальности
const uniqueViolation = "23505"

// BaseRepository базовая структура для всех репозиториев PostgreSQL
type BaseRepository struct {
	DB database.DBTX
}

// NewBaseRepository создает новый экземпляр базового репозитория
func NewBaseRepository(db database.DBTX) *BaseRepository {
	return &BaseRepository{DB: db}
}

// ExecContext выполняет запрос без результата
func (r *BaseRepository) ExecContext(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return r.DB.Exec(ctx, query, args...)
}

// QueryRowContext выполняет запрос и возвращает одну строку
func (r *BaseRepository) QueryRowContext(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return r.DB.QueryRow(ctx, query, args...)
}

// QueryContext выполняет запрос и возвращает несколько строк
func (r *BaseRepository) QueryContext(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return r.DB.Query(ctx, query, args...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
