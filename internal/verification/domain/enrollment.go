package domain

import "time"

// Enrollment is a user's stored voice signature. A user with no enrollment
// row cannot be verified.
type Enrollment struct {
	UserID      string
	Embedding   []float64
	SampleCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
