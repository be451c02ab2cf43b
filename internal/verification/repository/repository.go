package repository

import (
	"context"
	"time"

	"voicegate/backend/internal/verification/domain"
)

// AttemptRepository defines persistence for verification attempt results.
// Every terminal biometric decision writes exactly one attempt row.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.AuthAttemptResult) error
	GetByID(ctx context.Context, id string) (*domain.AuthAttemptResult, error)
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthAttemptResult, error)
	// CountFailuresSince returns the number of failed attempts for the user
	// recorded at or after since. Feeds the issuance attempt gate.
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// EnrollmentRepository defines persistence for stored voice signatures.
type EnrollmentRepository interface {
	// GetByUserID returns the user's enrollment, or nil if the user has
	// never enrolled.
	GetByUserID(ctx context.Context, userID string) (*domain.Enrollment, error)
	Upsert(ctx context.Context, e *domain.Enrollment) error
}
