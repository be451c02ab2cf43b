package domain

import "time"

// Challenge is a one-time, time-boxed phrase token binding a verification
// attempt to a single request. A challenge is unused-valid, unused-expired,
// or used; UsedAt is set at most once, by exactly one caller.
type Challenge struct {
	ID         string
	UserID     string
	PhraseID   string
	PhraseText string
	Difficulty int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time
}

// Used reports whether the challenge has been consumed.
func (c *Challenge) Used() bool { return c.UsedAt != nil }

// ExpiredAt reports whether the challenge is expired at the given time.
func (c *Challenge) ExpiredAt(now time.Time) bool { return !c.ExpiresAt.After(now) }

// Phrase is one entry in the spoken-phrase pool.
type Phrase struct {
	ID         string
	Text       string
	Difficulty int
}

// ValidationState is the outcome of a strict, read-only challenge check.
// States are evaluated in priority order: NOT_FOUND, WRONG_USER,
// ALREADY_USED, EXPIRED, then VALID.
type ValidationState string

const (
	StateValid       ValidationState = "VALID"
	StateNotFound    ValidationState = "NOT_FOUND"
	StateWrongUser   ValidationState = "WRONG_USER"
	StateAlreadyUsed ValidationState = "ALREADY_USED"
	StateExpired     ValidationState = "EXPIRED"
)
