// Package service implements the challenge lifecycle: rate-limited
// issuance with phrase-repetition avoidance, strict validation, and
// at-most-once consumption.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicegate/backend/internal/audit"
	"voicegate/backend/internal/challenge/domain"
	"voicegate/backend/internal/challenge/repository"
	"voicegate/backend/internal/policy/engine"
	"voicegate/backend/internal/security"
)

// RateLimitError is returned before any challenge row is created when an
// issuance limit is hit. Limited requests never count toward usage.
type RateLimitError struct {
	Msg string
}

func (e *RateLimitError) Error() string { return "challenge: " + e.Msg }

// GateDeniedError is returned when the attempt-gate policy denies issuance
// (e.g. lockout after repeated verification failures).
type GateDeniedError struct {
	Reason string
}

func (e *GateDeniedError) Error() string {
	return fmt.Sprintf("challenge: issuance denied by attempt gate: %s", e.Reason)
}

// ErrEmptyPhrasePool is returned when the pool has no phrase at the
// requested difficulty at all.
var ErrEmptyPhrasePool = errors.New("challenge: phrase pool is empty for requested difficulty")

// FailureCounter reports a user's recent verification failures; backed by
// the auth attempts repository. Feeds the attempt gate.
type FailureCounter interface {
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Limiter is the optional distributed issuance limiter in front of the
// database counters.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// IssuerConfig holds issuance limits. All limits are soft: counters are read
// without a transaction, so bounded overshoot under concurrent issuance is
// accepted.
type IssuerConfig struct {
	TTL             time.Duration
	MaxActive       int
	MaxPerHour      int
	ExcludeLast     int
	GateMaxFailures int
	GateWindow      time.Duration
	Profile         string
}

// Issuer creates challenges subject to the attempt gate and rate limits.
type Issuer struct {
	challenges repository.Repository
	phrases    repository.PhraseRepository
	gate       engine.Gate
	failures   FailureCounter
	limiter    Limiter
	tokens     *security.TokenProvider
	auditor    audit.Recorder
	cfg        IssuerConfig
	log        *zap.Logger
	nowF       func() time.Time
	pickF      func(n int) int
}

// NewIssuer returns an Issuer. gate, failures, limiter, tokens, and auditor
// may be nil; the corresponding step is skipped.
func NewIssuer(
	challenges repository.Repository,
	phrases repository.PhraseRepository,
	gate engine.Gate,
	failures FailureCounter,
	limiter Limiter,
	tokens *security.TokenProvider,
	auditor audit.Recorder,
	cfg IssuerConfig,
	log *zap.Logger,
) *Issuer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = repository.DefaultChallengeTTL
	}
	if cfg.GateWindow <= 0 {
		cfg.GateWindow = time.Hour
	}
	return &Issuer{
		challenges: challenges,
		phrases:    phrases,
		gate:       gate,
		failures:   failures,
		limiter:    limiter,
		tokens:     tokens,
		auditor:    auditor,
		cfg:        cfg,
		log:        log,
		nowF:       func() time.Time { return time.Now().UTC() },
		pickF:      rand.IntN,
	}
}

// Issued pairs a created challenge with its signed transport token. Token is
// empty when no token provider is configured.
type Issued struct {
	Challenge *domain.Challenge
	Token     string
}

// Create issues one challenge for the user at the given difficulty. The
// phrase is drawn from the pool excluding the user's most recent phrases;
// when that exclusion empties the pool the full pool is used and the
// fallback is logged once. Rate limits are checked before any row is
// created.
func (s *Issuer) Create(ctx context.Context, userID string, difficulty int) (*Issued, error) {
	fallbackLogged := false
	return s.createOne(ctx, userID, difficulty, &fallbackLogged)
}

// CreateBatch issues count challenges sequentially, each subject to the same
// incrementally evaluated limits. A temporarily exhausted filtered phrase
// pool falls back per challenge, never failing the batch; the fallback is
// logged at most once for the whole batch.
func (s *Issuer) CreateBatch(ctx context.Context, userID string, difficulty, count int) ([]*Issued, error) {
	if count < 1 {
		return nil, fmt.Errorf("challenge: batch count must be >= 1, got %d", count)
	}
	fallbackLogged := false
	out := make([]*Issued, 0, count)
	for i := 0; i < count; i++ {
		issued, err := s.createOne(ctx, userID, difficulty, &fallbackLogged)
		if err != nil {
			return nil, err
		}
		out = append(out, issued)
	}
	return out, nil
}

func (s *Issuer) createOne(ctx context.Context, userID string, difficulty int, fallbackLogged *bool) (*Issued, error) {
	now := s.nowF()

	if s.gate != nil && s.failures != nil && s.cfg.GateMaxFailures > 0 {
		recent, err := s.failures.CountFailuresSince(ctx, userID, now.Add(-s.cfg.GateWindow))
		if err != nil {
			return nil, err
		}
		active, err := s.challenges.CountActiveByUser(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		res, err := s.gate.EvaluateIssuance(ctx, engine.GateInput{
			UserID:           userID,
			RecentFailures:   recent,
			ActiveChallenges: active,
			MaxFailures:      s.cfg.GateMaxFailures,
			Profile:          s.cfg.Profile,
		})
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			if s.auditor != nil {
				s.auditor.LogEvent(ctx, userID, "attempt_gate_denied", "challenge",
					fmt.Sprintf(`{"reason":%q}`, res.Reason))
			}
			return nil, &GateDeniedError{Reason: res.Reason}
		}
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			// The distributed limiter is advisory; the DB counters below
			// still apply when Redis is unreachable.
			s.log.Warn("issuance limiter unavailable, using database counters only",
				zap.String("user_id", userID), zap.Error(err))
		} else if !ok {
			return nil, s.limited(ctx, userID, "rate limit exceeded")
		}
	}

	if s.cfg.MaxActive > 0 {
		active, err := s.challenges.CountActiveByUser(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if active >= s.cfg.MaxActive {
			return nil, s.limited(ctx, userID, "too many active challenges")
		}
	}
	if s.cfg.MaxPerHour > 0 {
		created, err := s.challenges.CountCreatedSince(ctx, userID, now.Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		if created >= s.cfg.MaxPerHour {
			return nil, s.limited(ctx, userID, "rate limit exceeded")
		}
	}

	phrase, err := s.selectPhrase(ctx, userID, difficulty, fallbackLogged)
	if err != nil {
		return nil, err
	}

	c := &domain.Challenge{
		ID:         uuid.New().String(),
		UserID:     userID,
		PhraseID:   phrase.ID,
		PhraseText: phrase.Text,
		Difficulty: phrase.Difficulty,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}
	if err := s.challenges.Create(ctx, c); err != nil {
		return nil, err
	}

	issued := &Issued{Challenge: c}
	if s.tokens != nil {
		token, err := s.tokens.IssueChallenge(c.ID, c.UserID, c.PhraseID, s.cfg.Profile, c.ExpiresAt)
		if err != nil {
			return nil, err
		}
		issued.Token = token
	}
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, userID, "challenge_created", "challenge",
			fmt.Sprintf(`{"challenge_id":%q,"difficulty":%d}`, c.ID, c.Difficulty))
	}
	return issued, nil
}

// limited records the rejected issuance in the audit log and returns the
// RateLimitError. Limited requests never create a row.
func (s *Issuer) limited(ctx context.Context, userID, msg string) error {
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, userID, "challenge_rate_limited", "challenge",
			fmt.Sprintf(`{"limit":%q}`, msg))
	}
	return &RateLimitError{Msg: msg}
}

// selectPhrase draws a phrase from the pool, excluding the user's last
// ExcludeLast phrase ids best-effort. An exclusion that empties the pool
// falls back to the unfiltered pool; the fallback is logged once per
// top-level Create/CreateBatch call via fallbackLogged.
func (s *Issuer) selectPhrase(ctx context.Context, userID string, difficulty int, fallbackLogged *bool) (*domain.Phrase, error) {
	pool, err := s.phrases.ListByDifficulty(ctx, difficulty)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, ErrEmptyPhrasePool
	}

	candidates := pool
	if s.cfg.ExcludeLast > 0 {
		recent, err := s.challenges.RecentPhraseIDs(ctx, userID, s.cfg.ExcludeLast)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			excluded := make(map[string]struct{}, len(recent))
			for _, id := range recent {
				excluded[id] = struct{}{}
			}
			filtered := make([]*domain.Phrase, 0, len(pool))
			for _, p := range pool {
				if _, ok := excluded[p.ID]; !ok {
					filtered = append(filtered, p)
				}
			}
			if len(filtered) == 0 {
				if !*fallbackLogged {
					s.log.Info("phrase exclusion emptied the pool, falling back to full pool",
						zap.String("user_id", userID), zap.Int("difficulty", difficulty))
					*fallbackLogged = true
				}
			} else {
				candidates = filtered
			}
		}
	}

	return candidates[s.pickF(len(candidates))], nil
}
