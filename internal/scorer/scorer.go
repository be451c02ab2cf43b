// Package scorer defines the external biometric scorer interfaces consumed
// by the verification pipeline, and HTTP clients for remote scorer services.
// Scorer calls are blocking and potentially slow; every client call carries
// an explicit timeout, and failures surface as typed errors so the pipeline
// can distinguish infrastructure faults from biometric rejections.
package scorer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps connection and server-side failures.
	ErrUnavailable = errors.New("scorer unavailable")
	// ErrTimeout wraps deadline expiry on a scorer call.
	ErrTimeout = errors.New("scorer timed out")
)

// Error carries the failing scorer's name alongside the typed cause.
type Error struct {
	Scorer string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("scorer %s: %v", e.Scorer, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// PhraseResult is the text scorer's verdict on a spoken phrase.
type PhraseResult struct {
	Matches    bool
	Similarity float64
}

// IdentityScorer produces voice embeddings and compares them.
type IdentityScorer interface {
	ExtractEmbedding(ctx context.Context, audio []byte) ([]float64, error)
	Similarity(ctx context.Context, a, b []float64) (float64, error)
}

// AntispoofScorer estimates the probability that audio is synthetic or
// replayed, in [0,1].
type AntispoofScorer interface {
	DetectSpoof(ctx context.Context, audio []byte) (float64, error)
}

// TextScorer checks that the spoken audio matches the expected phrase.
type TextScorer interface {
	VerifyPhrase(ctx context.Context, audio []byte, expectedText string) (PhraseResult, error)
}
