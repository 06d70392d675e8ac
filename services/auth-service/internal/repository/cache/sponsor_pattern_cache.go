package cache

import (
	"context"
	"sync"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"
)

// DefaultTTL время жизни списка активных шаблонов в кеше
const DefaultTTL = 5 * time.Minute

// SponsorPatternCache декоратор SponsorPatternRepository с кешем активных шаблонов
//
// Коды привязки разрешаются по кешированному списку. Запись через кеш сбрасывает его
type SponsorPatternCache struct {
	next repository.SponsorPatternRepository
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	patterns  []*domain.SponsorPattern
	expiresAt time.Time
	loaded    bool
	// generation растет при каждом Invalidate
	generation uint64
}

// Option настраивает кеш
type Option func(*SponsorPatternCache)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(c *SponsorPatternCache) {
		c.now = now
	}
}

// NewSponsorPatternCache оборачивает репозиторий кешем с заданным TTL
func NewSponsorPatternCache(next repository.SponsorPatternRepository, ttl time.Duration, opts ...Option) *SponsorPatternCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &SponsorPatternCache{
		next: next,
		ttl:  ttl,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ repository.SponsorPatternRepository = (*SponsorPatternCache)(nil)

// GetAllActivePatterns возвращает активные шаблоны из кеша, загружая их при истечении TTL
func (c *SponsorPatternCache) GetAllActivePatterns(ctx context.Context) ([]*domain.SponsorPattern, error) {
	c.mu.RLock()
	if c.loaded && c.now().Before(c.expiresAt) {
		patterns := c.patterns
		c.mu.RUnlock()
		return patterns, nil
	}
	c.mu.RUnlock()

	return c.reload(ctx)
}

// FindByLinkingCode разрешает код по кешированному списку активных шаблонов
func (c *SponsorPatternCache) FindByLinkingCode(ctx context.Context, code string) (*domain.SponsorPattern, error) {
	patterns, err := c.GetAllActivePatterns(ctx)
	if err != nil {
		return nil, err
	}
	match := domain.MatchLinkingCode(code, patterns)
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match, nil
}

func (c *SponsorPatternCache) CreatePattern(ctx context.Context, pattern *domain.SponsorPattern) error {
	if err := c.next.CreatePattern(ctx, pattern); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *SponsorPatternCache) DecommissionPattern(ctx context.Context, sponsorID string) error {
	if err := c.next.DecommissionPattern(ctx, sponsorID); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// RefreshCache сразу перезагружает список из нижележащего репозитория
func (c *SponsorPatternCache) RefreshCache(ctx context.Context) error {
	if err := c.next.RefreshCache(ctx); err != nil {
		return err
	}
	_, err := c.reload(ctx)
	return err
}

// Invalidate сбрасывает кеш, следующий запрос пойдет в репозиторий
func (c *SponsorPatternCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.patterns = nil
	c.generation++
}

// reload читает список из репозитория. Если во время чтения прошел Invalidate,
// результат возвращается вызывающему, но в кеш не попадает
func (c *SponsorPatternCache) reload(ctx context.Context) ([]*domain.SponsorPattern, error) {
	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	patterns, err := c.next.GetAllActivePatterns(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation {
		return patterns, nil
	}
	c.patterns = patterns
	c.expiresAt = c.now().Add(c.ttl)
	c.loaded = true
	return patterns, nil
}
