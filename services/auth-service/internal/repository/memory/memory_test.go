package memory

import (
	"context"
	"testing"
	"time"

	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	require.NoError(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "Alice", SponsorID: "S1"}))

	user, err := repo.GetUserByUsername(ctx, "ALICE", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "alice", user.Username)

	_, err = repo.GetUserByUsername(ctx, "alice", "S2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	require.NoError(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "alice", SponsorID: "S1"}))
	assert.ErrorIs(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u2", Username: "Alice", SponsorID: "S1"}), repository.ErrAlreadyExists)
	assert.ErrorIs(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "bob", SponsorID: "S1"}), repository.ErrAlreadyExists)
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	require.NoError(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "alice"}))

	user, err := repo.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	user.FailedAttempts = 42

	stored, err := repo.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
}

func TestUserRepository_FailedAttemptsAndLock(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	require.NoError(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "alice"}))

	for i := 1; i <= 3; i++ {
		user, err := repo.IncrementFailedAttempts(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, i, user.FailedAttempts)
	}

	until := time.Now().Add(time.Hour)
	user, err := repo.LockAccount(ctx, "u1", until)
	require.NoError(t, err)
	assert.True(t, user.IsLocked(time.Now()))

	user, err = repo.ResetFailedAttempts(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)

	_, err = repo.IncrementFailedAttempts(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepository_UpdateUser(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	require.NoError(t, repo.CreateUser(ctx, &domain.WebUser{ID: "u1", Username: "alice", PasswordHash: "old"}))

	user, err := repo.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	user.PasswordHash = "new"
	user.Username = "mallory"
	require.NoError(t, repo.UpdateUser(ctx, user))

	stored, err := repo.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	assert.Equal(t, "alice", stored.Username)

	assert.ErrorIs(t, repo.UpdateUser(ctx, &domain.WebUser{ID: "missing"}), repository.ErrNotFound)
}

func TestSponsorPatternRepository_LongestPrefix(t *testing.T) {
	ctx := context.Background()
	repo := NewSponsorPatternRepository(
		&domain.SponsorPattern{PatternPrefix: "AB-", SponsorID: "S1", Active: true},
		&domain.SponsorPattern{PatternPrefix: "ABC-", SponsorID: "S2", Active: true},
	)

	pattern, err := repo.FindByLinkingCode(ctx, "ABC-12345")
	require.NoError(t, err)
	assert.Equal(t, "S2", pattern.SponsorID)

	pattern, err = repo.FindByLinkingCode(ctx, "AB-99999")
	require.NoError(t, err)
	assert.Equal(t, "S1", pattern.SponsorID)

	patterns, err := repo.GetAllActivePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "ABC-", patterns[0].PatternPrefix)
}

func TestSponsorPatternRepository_Decommission(t *testing.T) {
	ctx := context.Background()
	repo := NewSponsorPatternRepository(
		&domain.SponsorPattern{PatternPrefix: "AB-", SponsorID: "S1", Active: true},
		&domain.SponsorPattern{PatternPrefix: "ABC-", SponsorID: "S2", Active: true},
	)

	require.NoError(t, repo.DecommissionPattern(ctx, "S2"))
	assert.ErrorIs(t, repo.DecommissionPattern(ctx, "S2"), repository.ErrNotFound)

	_, err := repo.FindByLinkingCode(ctx, "ABC-12345")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSponsorPatternRepository_CreatePattern(t *testing.T) {
	ctx := context.Background()
	repo := NewSponsorPatternRepository()

	require.NoError(t, repo.CreatePattern(ctx, &domain.SponsorPattern{PatternPrefix: "xy-", SponsorID: "S3", Active: true}))
	assert.ErrorIs(t, repo.CreatePattern(ctx, &domain.SponsorPattern{PatternPrefix: "XY-", SponsorID: "S4", Active: true}), repository.ErrAlreadyExists)

	pattern, err := repo.FindByLinkingCode(ctx, "xy-1")
	require.NoError(t, err)
	assert.Equal(t, "S3", pattern.SponsorID)
	assert.NoError(t, repo.RefreshCache(ctx))
}
