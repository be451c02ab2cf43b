// Package fusion combines the identity and antispoof scores with a
// threshold profile into the fusion-stage verdict, and checks the spoken
// phrase against the profile's text threshold for the text stage.
package fusion

import (
	"errors"

	"go.uber.org/zap"

	"voicegate/backend/internal/policy"
	verifdomain "voicegate/backend/internal/verification/domain"
)

// ErrNilPolicy is returned when Combine is called without a profile. Bad
// score values never cause an error; they are clamped.
var ErrNilPolicy = errors.New("fusion: threshold policy is required")

// Result is the fusion-stage outcome over identity and antispoof scores.
// FusedScore is the weighted confidence value and is populated for both
// strategies regardless of Passed, so rejected attempts still carry a
// confidence for the audit record. The phrase condition is a separate stage
// and is checked with PhrasePassed.
type Result struct {
	FusedScore     float64
	Passed         bool
	IdentityPassed bool
	SpoofPassed    bool
}

// Engine fuses scores under a profile's strategy. Safe for concurrent use.
type Engine struct {
	log *zap.Logger
}

// NewEngine returns an Engine logging clamp warnings to log.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Combine evaluates the identity and antispoof scores against the profile.
// Missing values are treated as the worst case (0 similarity, 1 spoof
// probability); out-of-range values are clamped to [0,1] with a warning,
// never rejected.
func (e *Engine) Combine(scores verifdomain.BiometricScores, p *policy.ThresholdPolicy) (Result, error) {
	if p == nil {
		return Result{}, ErrNilPolicy
	}

	similarity := e.clamped("similarity", scores.Similarity, 0)
	spoofProb := e.clamped("spoof_probability", scores.SpoofProbability, 1)

	identityPassed := similarity >= p.IdentityThreshold
	spoofPassed := spoofProb < p.AntispoofThreshold
	fused := p.FusionWeights.Identity*similarity + p.FusionWeights.Antispoof*(1-spoofProb)

	res := Result{
		FusedScore:     fused,
		IdentityPassed: identityPassed,
		SpoofPassed:    spoofPassed,
	}
	switch p.Strategy {
	case policy.StrategyAndCascade:
		res.Passed = identityPassed && spoofPassed
	case policy.StrategyWeightedFusion:
		res.Passed = fused >= p.FusionThreshold
	default:
		// Store validation rejects unknown strategies before a profile is
		// ever handed out; this is unreachable with a validated policy.
		return Result{}, &policy.ConfigError{Profile: p.Name, Reason: "unknown fusion strategy"}
	}
	return res, nil
}

// PhrasePassed reports the text-stage verdict: the scorer's boolean match,
// or the numeric phrase score meeting the profile's text threshold.
func (e *Engine) PhrasePassed(scores verifdomain.BiometricScores, p *policy.ThresholdPolicy) bool {
	if p == nil {
		return false
	}
	if scores.PhraseOK != nil && *scores.PhraseOK {
		return true
	}
	return e.clamped("phrase_match", scores.PhraseMatch, 0) >= p.TextThreshold
}

// clamped returns *v clamped to [0,1], logging one warning when clamping
// occurred, or fallback when v is nil.
func (e *Engine) clamped(field string, v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	switch {
	case *v < 0:
		e.log.Warn("score out of range, clamped", zap.String("field", field), zap.Float64("value", *v))
		return 0
	case *v > 1:
		e.log.Warn("score out of range, clamped", zap.String("field", field), zap.Float64("value", *v))
		return 1
	}
	return *v
}
