package repository

import (
	"context"
	"time"

	"voicegate/backend/internal/challenge/domain"
)

// Repository defines persistence for challenges.
type Repository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	// MarkUsed sets used_at if and only if it is still null. Returns true
	// when this call consumed the challenge; false when it was already used
	// or does not exist. Must be atomic: two racing callers see exactly one
	// true.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	// CountActiveByUser counts unused, unexpired challenges for the user.
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)
	// CountCreatedSince counts challenges created for the user at or after
	// since, used or not.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	// RecentPhraseIDs returns the phrase ids of the user's most recently
	// created challenges, newest first, up to limit.
	RecentPhraseIDs(ctx context.Context, userID string, limit int) ([]string, error)
	// DeleteExpired removes unused challenges that expired before the given
	// time. Returns the number of rows removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PhraseRepository provides the spoken-phrase pool.
type PhraseRepository interface {
	// ListByDifficulty returns all pool phrases at the given difficulty.
	ListByDifficulty(ctx context.Context, difficulty int) ([]*domain.Phrase, error)
}

// DefaultChallengeTTL is the default challenge expiry.
const DefaultChallengeTTL = 5 * time.Minute
