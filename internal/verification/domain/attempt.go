package domain

import "time"

// Reason is the single deterministic reason code attached to a terminal
// verification decision.
type Reason string

const (
	ReasonOK             Reason = "OK"
	ReasonNotEnrolled    Reason = "NOT_ENROLLED"
	ReasonSpoof          Reason = "SPOOF"
	ReasonLowSimilarity  Reason = "LOW_SIMILARITY"
	ReasonPhraseMismatch Reason = "PHRASE_MISMATCH"
)

// AuthAttemptResult is the immutable audit record written exactly once per
// verification decision, on success and rejection alike. Scores may be
// partially populated when the pipeline exited before a later stage ran.
type AuthAttemptResult struct {
	ID               string
	UserID           string
	ChallengeID      string
	Success          bool
	Reason           Reason
	ConfidenceScore  float64
	ProcessingTimeMS int64
	Scores           BiometricScores
	PolicyName       string
	Timestamp        time.Time
}
