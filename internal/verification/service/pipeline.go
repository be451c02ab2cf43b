// Package service implements the staged verification pipeline: challenge
// validation, enrollment check, identity and antispoof scoring, score fusion,
// and the phrase check, ending in exactly one persisted attempt record and
// exactly one challenge consumption per terminal biometric decision.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicegate/backend/internal/audit"
	chdomain "voicegate/backend/internal/challenge/domain"
	"voicegate/backend/internal/fusion"
	"voicegate/backend/internal/policy"
	"voicegate/backend/internal/scorer"
	"voicegate/backend/internal/telemetry"
	tdomain "voicegate/backend/internal/telemetry/domain"
	"voicegate/backend/internal/verification/domain"
	"voicegate/backend/internal/verification/repository"
)

const defaultScorerTimeout = 10 * time.Second

// ValidationError reports malformed verification input. Nothing is persisted
// and no challenge state changes.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("verification: %s: %s", e.Field, e.Msg)
}

// ChallengeStateError is the terminal error for a challenge that is missing,
// foreign, already used, or expired. The pipeline mutates nothing and writes
// no attempt row; the caller must issue a fresh challenge.
type ChallengeStateError struct {
	State chdomain.ValidationState
}

func (e *ChallengeStateError) Error() string {
	return fmt.Sprintf("verification: challenge rejected: %s", e.State)
}

// ScorerInfrastructureError wraps a scorer timeout or outage. The challenge
// is not consumed and no attempt row is written, so the caller may retry
// against the same challenge.
type ScorerInfrastructureError struct {
	Stage string
	Err   error
}

func (e *ScorerInfrastructureError) Error() string {
	return fmt.Sprintf("verification: %s stage failed: %v", e.Stage, e.Err)
}

func (e *ScorerInfrastructureError) Unwrap() error { return e.Err }

// ChallengeConsumer is the challenge validation surface the pipeline needs;
// implemented by the challenge service Validator.
type ChallengeConsumer interface {
	ValidateStrict(ctx context.Context, challengeID, userID string) (chdomain.ValidationState, *chdomain.Challenge, error)
	Consume(ctx context.Context, challengeID string) (bool, error)
}

// PipelineConfig tunes the pipeline.
type PipelineConfig struct {
	// ScorerTimeout bounds each individual scorer call; zero uses the default.
	ScorerTimeout time.Duration
	// DefaultPolicy is used when the caller names no profile.
	DefaultPolicy string
}

// Pipeline runs the cascade decision for one verification attempt.
// Safe for concurrent use.
type Pipeline struct {
	enrollments repository.EnrollmentRepository
	attempts    repository.AttemptRepository
	challenges  ChallengeConsumer
	identity    scorer.IdentityScorer
	antispoof   scorer.AntispoofScorer
	text        scorer.TextScorer
	policies    *policy.Store
	fusion      *fusion.Engine
	auditor     audit.Recorder
	emitter     telemetry.EventEmitter
	metrics     *Metrics
	cfg         PipelineConfig
	log         *zap.Logger
	nowF        func() time.Time
}

// NewPipeline wires the pipeline. auditor, emitter, and metrics may be nil;
// the decision path then skips those sinks.
func NewPipeline(
	enrollments repository.EnrollmentRepository,
	attempts repository.AttemptRepository,
	challenges ChallengeConsumer,
	identity scorer.IdentityScorer,
	antispoof scorer.AntispoofScorer,
	text scorer.TextScorer,
	policies *policy.Store,
	engine *fusion.Engine,
	auditor audit.Recorder,
	emitter telemetry.EventEmitter,
	metrics *Metrics,
	cfg PipelineConfig,
	log *zap.Logger,
) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = defaultScorerTimeout
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = policy.DefaultProfileName
	}
	return &Pipeline{
		enrollments: enrollments,
		attempts:    attempts,
		challenges:  challenges,
		identity:    identity,
		antispoof:   antispoof,
		text:        text,
		policies:    policies,
		fusion:      engine,
		auditor:     auditor,
		emitter:     emitter,
		metrics:     metrics,
		cfg:         cfg,
		log:         log,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// VerifyVoice runs the full cascade for one attempt and returns the
// immutable decision record.
//
// Terminal biometric decisions (success or rejection) consume the challenge
// and write exactly one attempt row. ChallengeStateError and
// ScorerInfrastructureError are not biometric decisions: they consume
// nothing and write nothing.
func (p *Pipeline) VerifyVoice(ctx context.Context, userID string, audio []byte, challengeID, policyName string) (*domain.AuthAttemptResult, error) {
	switch {
	case userID == "":
		return nil, &ValidationError{Field: "user_id", Msg: "must not be empty"}
	case len(audio) == 0:
		return nil, &ValidationError{Field: "audio", Msg: "must not be empty"}
	case challengeID == "":
		return nil, &ValidationError{Field: "challenge_id", Msg: "must not be empty"}
	}
	if policyName == "" {
		policyName = p.cfg.DefaultPolicy
	}
	pol, err := p.policies.Get(policyName)
	if err != nil {
		return nil, err
	}

	state, ch, err := p.challenges.ValidateStrict(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if state != chdomain.StateValid {
		return nil, &ChallengeStateError{State: state}
	}

	start := p.nowF()
	var scores domain.BiometricScores

	enrollment, err := p.enrollments.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return p.finalize(ctx, userID, ch, pol, false, domain.ReasonNotEnrolled, 0, scores, start)
	}

	similarity, err := p.scoreIdentity(ctx, audio, enrollment.Embedding, &scores)
	if err != nil {
		return nil, err
	}
	spoofProb, err := p.scoreAntispoof(ctx, audio, &scores)
	if err != nil {
		return nil, err
	}
	scores.Similarity = domain.Float(similarity)
	scores.SpoofProbability = domain.Float(spoofProb)

	fres, err := p.fusion.Combine(scores, pol)
	if err != nil {
		return nil, err
	}
	if !fres.Passed {
		// Spoof takes precedence when both modalities would reject.
		reason := domain.ReasonLowSimilarity
		if spoofProb >= pol.AntispoofThreshold {
			reason = domain.ReasonSpoof
		}
		return p.finalize(ctx, userID, ch, pol, false, reason, fres.FusedScore, scores, start)
	}

	phrase, err := p.scorePhrase(ctx, audio, ch.PhraseText, &scores)
	if err != nil {
		return nil, err
	}
	scores.PhraseOK = domain.Bool(phrase.Matches)
	scores.PhraseMatch = domain.Float(phrase.Similarity)
	if !p.fusion.PhrasePassed(scores, pol) {
		return p.finalize(ctx, userID, ch, pol, false, domain.ReasonPhraseMismatch, fres.FusedScore, scores, start)
	}

	return p.finalize(ctx, userID, ch, pol, true, domain.ReasonOK, fres.FusedScore, scores, start)
}

func (p *Pipeline) scoreIdentity(ctx context.Context, audio []byte, enrolled []float64, scores *domain.BiometricScores) (float64, error) {
	started := time.Now()
	sctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()
	emb, err := p.identity.ExtractEmbedding(sctx, audio)
	if err != nil {
		return 0, &ScorerInfrastructureError{Stage: "identity", Err: err}
	}
	sim, err := p.identity.Similarity(sctx, emb, enrolled)
	if err != nil {
		return 0, &ScorerInfrastructureError{Stage: "identity", Err: err}
	}
	scores.InferenceLatencyMS += time.Since(started).Milliseconds()
	return sim, nil
}

func (p *Pipeline) scoreAntispoof(ctx context.Context, audio []byte, scores *domain.BiometricScores) (float64, error) {
	started := time.Now()
	sctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()
	prob, err := p.antispoof.DetectSpoof(sctx, audio)
	if err != nil {
		return 0, &ScorerInfrastructureError{Stage: "antispoof", Err: err}
	}
	scores.InferenceLatencyMS += time.Since(started).Milliseconds()
	return prob, nil
}

func (p *Pipeline) scorePhrase(ctx context.Context, audio []byte, expected string, scores *domain.BiometricScores) (scorer.PhraseResult, error) {
	started := time.Now()
	sctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()
	res, err := p.text.VerifyPhrase(sctx, audio, expected)
	if err != nil {
		return scorer.PhraseResult{}, &ScorerInfrastructureError{Stage: "text", Err: err}
	}
	scores.InferenceLatencyMS += time.Since(started).Milliseconds()
	return res, nil
}

// finalize consumes the challenge, persists the attempt row, and fans the
// decision out to audit, telemetry, and metrics.
func (p *Pipeline) finalize(ctx context.Context, userID string, ch *chdomain.Challenge, pol *policy.ThresholdPolicy, success bool, reason domain.Reason, confidence float64, scores domain.BiometricScores, start time.Time) (*domain.AuthAttemptResult, error) {
	won, err := p.challenges.Consume(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent attempt consumed the challenge first; that attempt
		// owns the decision record.
		p.log.Warn("challenge consumed concurrently",
			zap.String("challenge_id", ch.ID),
			zap.String("user_id", userID))
		return nil, &ChallengeStateError{State: chdomain.StateAlreadyUsed}
	}

	now := p.nowF()
	attempt := &domain.AuthAttemptResult{
		ID:               uuid.New().String(),
		UserID:           userID,
		ChallengeID:      ch.ID,
		Success:          success,
		Reason:           reason,
		ConfidenceScore:  confidence,
		ProcessingTimeMS: now.Sub(start).Milliseconds(),
		Scores:           scores,
		PolicyName:       pol.Name,
		Timestamp:        now,
	}
	if err := p.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("verification: persist attempt: %w", err)
	}

	p.log.Info("verification decision",
		zap.String("user_id", userID),
		zap.String("challenge_id", ch.ID),
		zap.Bool("success", success),
		zap.String("reason", string(reason)),
		zap.Float64("confidence", confidence),
		zap.String("policy", pol.Name))
	p.record(ctx, attempt)
	return attempt, nil
}

// record fans the decision out to the best-effort sinks.
func (p *Pipeline) record(ctx context.Context, a *domain.AuthAttemptResult) {
	meta, err := json.Marshal(map[string]any{
		"success":    a.Success,
		"reason":     a.Reason,
		"confidence": a.ConfidenceScore,
		"policy":     a.PolicyName,
	})
	if err != nil {
		meta = nil
	}
	if p.auditor != nil {
		p.auditor.LogEvent(ctx, a.UserID, "verify_decision", "verification", string(meta))
	}
	telemetry.EmitAsync(p.emitter, ctx, &tdomain.Event{
		UserID:      a.UserID,
		ChallengeID: a.ChallengeID,
		EventType:   "verify_decision",
		Source:      "verification",
		Metadata:    meta,
		CreatedAt:   a.Timestamp,
	})
	if p.metrics != nil {
		p.metrics.RecordDecision(ctx, a)
	}
}
