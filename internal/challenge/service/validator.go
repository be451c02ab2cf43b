package service

import (
	"context"
	"time"

	"voicegate/backend/internal/challenge/domain"
	"voicegate/backend/internal/challenge/repository"
)

// Validator performs strict, read-only challenge checks and the single
// consuming write.
type Validator struct {
	challenges repository.Repository
	nowF       func() time.Time
}

// NewValidator returns a Validator over the challenge repository.
func NewValidator(challenges repository.Repository) *Validator {
	return &Validator{challenges: challenges, nowF: func() time.Time { return time.Now().UTC() }}
}

// ValidateStrict checks the challenge without mutating it. States are
// evaluated in priority order: NOT_FOUND, WRONG_USER, ALREADY_USED, EXPIRED,
// then VALID. The challenge is returned for every state except NOT_FOUND.
func (v *Validator) ValidateStrict(ctx context.Context, challengeID, userID string) (domain.ValidationState, *domain.Challenge, error) {
	c, err := v.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return "", nil, err
	}
	if c == nil {
		return domain.StateNotFound, nil, nil
	}
	if c.UserID != userID {
		return domain.StateWrongUser, c, nil
	}
	if c.Used() {
		return domain.StateAlreadyUsed, c, nil
	}
	if c.ExpiredAt(v.nowF()) {
		return domain.StateExpired, c, nil
	}
	return domain.StateValid, c, nil
}

// Consume marks the challenge used. Returns true when this call won the
// conditional update, false when another caller consumed it first.
func (v *Validator) Consume(ctx context.Context, challengeID string) (bool, error) {
	return v.challenges.MarkUsed(ctx, challengeID, v.nowF())
}

// SweepExpired deletes unused challenges that expired before now. Intended
// for a periodic maintenance call; returns the number of rows removed.
func (v *Validator) SweepExpired(ctx context.Context) (int64, error) {
	return v.challenges.DeleteExpired(ctx, v.nowF())
}
