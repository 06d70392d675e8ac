package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"
	"DiaryPlatform/services/auth-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepository считает обращения к списку активных шаблонов
type countingRepository struct {
	*memory.SponsorPatternRepository
	loads int
	err   error
	// duringLoad вызывается после чтения, до возврата результата
	duringLoad func()
}

func (r *countingRepository) GetAllActivePatterns(ctx context.Context) ([]*domain.SponsorPattern, error) {
	r.loads++
	if r.err != nil {
		return nil, r.err
	}
	patterns, err := r.SponsorPatternRepository.GetAllActivePatterns(ctx)
	if hook := r.duringLoad; hook != nil {
		r.duringLoad = nil
		hook()
	}
	return patterns, err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newCache(t *testing.T) (*SponsorPatternCache, *countingRepository, *fakeClock) {
	t.Helper()
	backend := &countingRepository{SponsorPatternRepository: memory.NewSponsorPatternRepository(
		&domain.SponsorPattern{PatternPrefix: "AB-", SponsorID: "S1", Active: true},
		&domain.SponsorPattern{PatternPrefix: "ABC-", SponsorID: "S2", Active: true},
	)}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewSponsorPatternCache(backend, DefaultTTL, WithClock(clock.Now)), backend, clock
}

func TestSponsorPatternCache_ServesFromCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	cache, backend, clock := newCache(t)

	pattern, err := cache.FindByLinkingCode(ctx, "ABC-12345")
	require.NoError(t, err)
	assert.Equal(t, "S2", pattern.SponsorID)

	clock.now = clock.now.Add(4 * time.Minute)
	pattern, err = cache.FindByLinkingCode(ctx, "AB-99999")
	require.NoError(t, err)
	assert.Equal(t, "S1", pattern.SponsorID)
	assert.Equal(t, 1, backend.loads)

	clock.now = clock.now.Add(time.Minute)
	_, err = cache.GetAllActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.loads)
}

func TestSponsorPatternCache_NotFound(t *testing.T) {
	cache, _, _ := newCache(t)

	_, err := cache.FindByLinkingCode(context.Background(), "ZZ-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSponsorPatternCache_DecommissionInvalidates(t *testing.T) {
	ctx := context.Background()
	cache, backend, _ := newCache(t)

	_, err := cache.FindByLinkingCode(ctx, "ABC-1")
	require.NoError(t, err)

	require.NoError(t, cache.DecommissionPattern(ctx, "S2"))

	_, err = cache.FindByLinkingCode(ctx, "ABC-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 2, backend.loads)
}

func TestSponsorPatternCache_CreateInvalidates(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newCache(t)

	_, err := cache.FindByLinkingCode(ctx, "XY-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, cache.CreatePattern(ctx, &domain.SponsorPattern{PatternPrefix: "XY-", SponsorID: "S3", Active: true}))

	pattern, err := cache.FindByLinkingCode(ctx, "XY-1")
	require.NoError(t, err)
	assert.Equal(t, "S3", pattern.SponsorID)
}

func TestSponsorPatternCache_RefreshCache(t *testing.T) {
	ctx := context.Background()
	cache, backend, _ := newCache(t)

	require.NoError(t, cache.RefreshCache(ctx))
	require.NoError(t, cache.RefreshCache(ctx))
	assert.Equal(t, 2, backend.loads)

	_, err := cache.GetAllActivePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.loads)
}

func TestSponsorPatternCache_BackendError(t *testing.T) {
	cache, backend, _ := newCache(t)
	backend.err = errors.New("database is down")

	_, err := cache.FindByLinkingCode(context.Background(), "AB-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}

// TestSponsorPatternCache_InvalidateDuringReload список, прочитанный до вывода спонсора
// из эксплуатации, не должен остаться в кеше на весь TTL
func TestSponsorPatternCache_InvalidateDuringReload(t *testing.T) {
	ctx := context.Background()
	cache, backend, _ := newCache(t)

	backend.duringLoad = func() {
		require.NoError(t, cache.DecommissionPattern(ctx, "S1"))
	}

	// Вызов, начавшийся до вывода, еще видит старый список
	patterns, err := cache.GetAllActivePatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, 2)

	_, err = cache.FindByLinkingCode(ctx, "AB-99999")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 2, backend.loads)

	// Свежий список кешируется как обычно
	_, err = cache.FindByLinkingCode(ctx, "ABC-12345")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.loads)
}
