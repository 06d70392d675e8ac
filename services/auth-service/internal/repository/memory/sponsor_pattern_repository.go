package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"
)

// SponsorPatternRepository хранит шаблоны кодов привязки в памяти процесса
type SponsorPatternRepository struct {
	mu       sync.RWMutex
	patterns map[string]*domain.SponsorPattern
	now      func() time.Time
}

// NewSponsorPatternRepository создает репозиторий, заполненный переданными шаблонами
func NewSponsorPatternRepository(seed ...*domain.SponsorPattern) *SponsorPatternRepository {
	r := &SponsorPatternRepository{
		patterns: make(map[string]*domain.SponsorPattern, len(seed)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, pattern := range seed {
		stored := copyPattern(pattern)
		stored.PatternPrefix = domain.NormalizeLinkingCode(stored.PatternPrefix)
		r.patterns[stored.PatternPrefix] = stored
	}
	return r
}

var _ repository.SponsorPatternRepository = (*SponsorPatternRepository)(nil)

// GetAllActivePatterns возвращает активные шаблоны, длинные префиксы первыми
func (r *SponsorPatternRepository) GetAllActivePatterns(context.Context) ([]*domain.SponsorPattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.SponsorPattern
	for _, pattern := range r.patterns {
		if pattern.Active {
			active = append(active, copyPattern(pattern))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if len(active[i].PatternPrefix) != len(active[j].PatternPrefix) {
			return len(active[i].PatternPrefix) > len(active[j].PatternPrefix)
		}
		return active[i].PatternPrefix < active[j].PatternPrefix
	})
	return active, nil
}

func (r *SponsorPatternRepository) FindByLinkingCode(ctx context.Context, code string) (*domain.SponsorPattern, error) {
	active, _ := r.GetAllActivePatterns(ctx)
	match := domain.MatchLinkingCode(code, active)
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match, nil
}

func (r *SponsorPatternRepository) CreatePattern(_ context.Context, pattern *domain.SponsorPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := domain.NormalizeLinkingCode(pattern.PatternPrefix)
	if _, ok := r.patterns[prefix]; ok {
		return repository.ErrAlreadyExists
	}
	stored := copyPattern(pattern)
	stored.PatternPrefix = prefix
	r.patterns[prefix] = stored
	return nil
}

func (r *SponsorPatternRepository) DecommissionPattern(_ context.Context, sponsorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	decommissioned := 0
	for _, pattern := range r.patterns {
		if pattern.SponsorID == sponsorID && pattern.Active {
			pattern.Active = false
			pattern.DecommissionedAt = &now
			decommissioned++
		}
	}
	if decommissioned == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RefreshCache ничего не делает, данные уже в памяти
func (r *SponsorPatternRepository) RefreshCache(context.Context) error {
	return nil
}

func copyPattern(pattern *domain.SponsorPattern) *domain.SponsorPattern {
	clone := *pattern
	if pattern.DecommissionedAt != nil {
		decommissionedAt := *pattern.DecommissionedAt
		clone.DecommissionedAt = &decommissionedAt
	}
	return &clone
}
