package postgres

import (
	"context"
	"fmt"
	"time"

	"DiaryPlatform/pkg/database"
	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"

	"github.com/jackc/pgx/v5"
)

const patternColumns = `pattern_prefix, sponsor_id, sponsor_name, portal_url, firestore_project,
	active, created_at, decommissioned_at`

// SponsorPatternRepository реализация репозитория шаблонов кодов привязки для PostgreSQL
//
// Кеширования здесь нет, его добавляет cache.SponsorPatternCache
type SponsorPatternRepository struct {
	*BaseRepository
	now func() time.Time
}

// NewSponsorPatternRepository создает новый экземпляр SponsorPatternRepository
func NewSponsorPatternRepository(db database.DBTX) *SponsorPatternRepository {
	return &SponsorPatternRepository{
		BaseRepository: NewBaseRepository(db),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.SponsorPatternRepository = (*SponsorPatternRepository)(nil)

// GetAllActivePatterns возвращает активные шаблоны, длинные префиксы первыми
func (r *SponsorPatternRepository) GetAllActivePatterns(ctx context.Context) ([]*domain.SponsorPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM sponsor_patterns
		WHERE active
		ORDER BY length(pattern_prefix) DESC, pattern_prefix`

	rows, err := r.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sponsor patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*domain.SponsorPattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sponsor pattern: %w", err)
		}
		patterns = append(patterns, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sponsor patterns: %w", err)
	}

	return patterns, nil
}

// FindByLinkingCode ищет активный шаблон с самым длинным префиксом кода
func (r *SponsorPatternRepository) FindByLinkingCode(ctx context.Context, code string) (*domain.SponsorPattern, error) {
	code = domain.NormalizeLinkingCode(code)
	if code == "" {
		return nil, repository.ErrNotFound
	}

	query := `SELECT ` + patternColumns + ` FROM sponsor_patterns
		WHERE active AND starts_with($1, upper(pattern_prefix))
		ORDER BY length(pattern_prefix) DESC
		LIMIT 1`

	pattern, err := scanPattern(r.QueryRowContext(ctx, query, code))
	if err != nil {
		return nil, wrapNotFound(err, "failed to find sponsor pattern")
	}
	return pattern, nil
}

// CreatePattern сохраняет новый шаблон
func (r *SponsorPatternRepository) CreatePattern(ctx context.Context, pattern *domain.SponsorPattern) error {
	query := `INSERT INTO sponsor_patterns (` + patternColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.ExecContext(ctx, query,
		domain.NormalizeLinkingCode(pattern.PatternPrefix),
		pattern.SponsorID,
		pattern.SponsorName,
		pattern.PortalURL,
		pattern.FirestoreProject,
		pattern.Active,
		pattern.CreatedAt,
		pattern.DecommissionedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create sponsor pattern: %w", err)
	}

	return nil
}

// DecommissionPattern выводит из эксплуатации все активные шаблоны спонсора
func (r *SponsorPatternRepository) DecommissionPattern(ctx context.Context, sponsorID string) error {
	query := `UPDATE sponsor_patterns SET active = false, decommissioned_at = $2
		WHERE sponsor_id = $1 AND active`

	result, err := r.ExecContext(ctx, query, sponsorID, r.now())
	if err != nil {
		return fmt.Errorf("failed to decommission sponsor pattern: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RefreshCache ничего не делает: каждый запрос идет в базу
func (r *SponsorPatternRepository) RefreshCache(context.Context) error {
	return nil
}

func scanPattern(row pgx.Row) (*domain.SponsorPattern, error) {
	var pattern domain.SponsorPattern
	err := row.Scan(
		&pattern.PatternPrefix,
		&pattern.SponsorID,
		&pattern.SponsorName,
		&pattern.PortalURL,
		&pattern.FirestoreProject,
		&pattern.Active,
		&pattern.CreatedAt,
		&pattern.DecommissionedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pattern, nil
}
