package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	chdomain "voicegate/backend/internal/challenge/domain"
	"voicegate/backend/internal/fusion"
	"voicegate/backend/internal/policy"
	"voicegate/backend/internal/scorer"
	"voicegate/backend/internal/verification/domain"
)

type memEnrollmentRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Enrollment
}

func (m *memEnrollmentRepo) GetByUserID(ctx context.Context, userID string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[userID], nil
}

func (m *memEnrollmentRepo) Upsert(ctx context.Context, e *domain.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = map[string]*domain.Enrollment{}
	}
	m.byID[e.UserID] = e
	return nil
}

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts []*domain.AuthAttemptResult
}

func (m *memAttemptRepo) Create(ctx context.Context, a *domain.AuthAttemptResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memAttemptRepo) GetByID(ctx context.Context, id string) (*domain.AuthAttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memAttemptRepo) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthAttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuthAttemptResult
	for _, a := range m.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttemptRepo) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.UserID == userID && !a.Success && !a.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memAttemptRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *memAttemptRepo) last() *domain.AuthAttemptResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.attempts) == 0 {
		return nil
	}
	return m.attempts[len(m.attempts)-1]
}

// fakeChallenges implements ChallengeConsumer over a single challenge.
type fakeChallenges struct {
	mu           sync.Mutex
	ch           *chdomain.Challenge
	consumeCalls int
	loseRace     bool
}

func (f *fakeChallenges) ValidateStrict(ctx context.Context, challengeID, userID string) (chdomain.ValidationState, *chdomain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil || f.ch.ID != challengeID {
		return chdomain.StateNotFound, nil, nil
	}
	if f.ch.UserID != userID {
		return chdomain.StateWrongUser, f.ch, nil
	}
	if f.ch.Used() {
		return chdomain.StateAlreadyUsed, f.ch, nil
	}
	if f.ch.ExpiredAt(time.Now().UTC()) {
		return chdomain.StateExpired, f.ch, nil
	}
	return chdomain.StateValid, f.ch, nil
}

func (f *fakeChallenges) Consume(ctx context.Context, challengeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumeCalls++
	if f.loseRace || f.ch.UsedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	f.ch.UsedAt = &now
	return true, nil
}

type stubIdentity struct {
	mu         sync.Mutex
	calls      int
	similarity float64
	err        error
}

func (s *stubIdentity) ExtractEmbedding(ctx context.Context, audio []byte) ([]float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []float64{0.1, 0.2}, nil
}

func (s *stubIdentity) Similarity(ctx context.Context, a, b []float64) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.similarity, nil
}

func (s *stubIdentity) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAntispoof struct {
	mu    sync.Mutex
	calls int
	prob  float64
	err   error
}

func (s *stubAntispoof) DetectSpoof(ctx context.Context, audio []byte) (float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.prob, nil
}

func (s *stubAntispoof) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubText struct {
	mu     sync.Mutex
	calls  int
	result scorer.PhraseResult
	err    error
}

func (s *stubText) VerifyPhrase(ctx context.Context, audio []byte, expected string) (scorer.PhraseResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return scorer.PhraseResult{}, s.err
	}
	return s.result, nil
}

func (s *stubText) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type pipelineFixture struct {
	pipeline    *Pipeline
	enrollments *memEnrollmentRepo
	attempts    *memAttemptRepo
	challenges  *fakeChallenges
	identity    *stubIdentity
	antispoof   *stubAntispoof
	text        *stubText
}

func validChallenge() *chdomain.Challenge {
	now := time.Now().UTC()
	return &chdomain.Challenge{
		ID:         "ch-1",
		UserID:     "u1",
		PhraseID:   "p1",
		PhraseText: "open sesame",
		Difficulty: 1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	store, err := policy.NewStore(policy.DefaultProfiles())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f := &pipelineFixture{
		enrollments: &memEnrollmentRepo{byID: map[string]*domain.Enrollment{
			"u1": {UserID: "u1", Embedding: []float64{0.3, 0.4}, SampleCount: 3},
		}},
		attempts:   &memAttemptRepo{},
		challenges: &fakeChallenges{ch: validChallenge()},
		identity:   &stubIdentity{similarity: 0.9},
		antispoof:  &stubAntispoof{prob: 0.1},
		text:       &stubText{result: scorer.PhraseResult{Matches: true, Similarity: 0.95}},
	}
	f.pipeline = NewPipeline(
		f.enrollments, f.attempts, f.challenges,
		f.identity, f.antispoof, f.text,
		store, fusion.NewEngine(nil),
		nil, nil, nil,
		PipelineConfig{ScorerTimeout: time.Second, DefaultPolicy: "bank_strict"},
		zap.NewNop(),
	)
	return f
}

func TestVerifyVoice_Success(t *testing.T) {
	f := newFixture(t)
	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "bank_strict")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if !a.Success || a.Reason != domain.ReasonOK {
		t.Errorf("decision = success=%v reason=%s, want success OK", a.Success, a.Reason)
	}
	if a.Scores.Similarity == nil || *a.Scores.Similarity != 0.9 {
		t.Errorf("similarity = %v, want 0.9", a.Scores.Similarity)
	}
	if a.Scores.PhraseOK == nil || !*a.Scores.PhraseOK {
		t.Error("phrase score should be recorded")
	}
	if a.PolicyName != "bank_strict" {
		t.Errorf("policy = %q", a.PolicyName)
	}
	if f.attempts.count() != 1 {
		t.Errorf("attempt rows = %d, want 1", f.attempts.count())
	}
	if f.challenges.consumeCalls != 1 {
		t.Errorf("consume calls = %d, want 1", f.challenges.consumeCalls)
	}
}

func TestVerifyVoice_NotEnrolledSkipsScorers(t *testing.T) {
	f := newFixture(t)
	f.enrollments.byID = map[string]*domain.Enrollment{}
	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if a.Success || a.Reason != domain.ReasonNotEnrolled {
		t.Errorf("decision = success=%v reason=%s, want NOT_ENROLLED rejection", a.Success, a.Reason)
	}
	if n := f.identity.callCount() + f.antispoof.callCount() + f.text.callCount(); n != 0 {
		t.Errorf("scorer calls = %d, want 0 for unenrolled user", n)
	}
	if f.attempts.count() != 1 {
		t.Errorf("attempt rows = %d, want 1", f.attempts.count())
	}
	if f.challenges.consumeCalls != 1 {
		t.Errorf("consume calls = %d, want 1", f.challenges.consumeCalls)
	}
}

func TestVerifyVoice_ChallengeStateErrors(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *pipelineFixture)
		state chdomain.ValidationState
	}{
		{
			name:  "not found",
			setup: func(f *pipelineFixture) { f.challenges.ch = nil },
			state: chdomain.StateNotFound,
		},
		{
			name:  "wrong user",
			setup: func(f *pipelineFixture) { f.challenges.ch.UserID = "someone-else" },
			state: chdomain.StateWrongUser,
		},
		{
			name: "already used",
			setup: func(f *pipelineFixture) {
				now := time.Now().UTC()
				f.challenges.ch.UsedAt = &now
			},
			state: chdomain.StateAlreadyUsed,
		},
		{
			name: "expired",
			setup: func(f *pipelineFixture) {
				f.challenges.ch.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			},
			state: chdomain.StateExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)
			_, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
			var stateErr *ChallengeStateError
			if !errors.As(err, &stateErr) || stateErr.State != tc.state {
				t.Fatalf("err = %v, want ChallengeStateError %s", err, tc.state)
			}
			if f.attempts.count() != 0 {
				t.Errorf("attempt rows = %d, want 0", f.attempts.count())
			}
			if f.challenges.consumeCalls != 0 {
				t.Errorf("consume calls = %d, want 0", f.challenges.consumeCalls)
			}
			if n := f.identity.callCount() + f.antispoof.callCount() + f.text.callCount(); n != 0 {
				t.Errorf("scorer calls = %d, want 0", n)
			}
		})
	}
}

func TestVerifyVoice_ScorerOutageConsumesNothing(t *testing.T) {
	f := newFixture(t)
	f.antispoof.err = &scorer.Error{Scorer: "antispoof", Err: scorer.ErrUnavailable}

	_, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	var infraErr *ScorerInfrastructureError
	if !errors.As(err, &infraErr) || infraErr.Stage != "antispoof" {
		t.Fatalf("err = %v, want ScorerInfrastructureError at antispoof stage", err)
	}
	if !errors.Is(err, scorer.ErrUnavailable) {
		t.Errorf("err should wrap scorer.ErrUnavailable, got %v", err)
	}
	if f.attempts.count() != 0 {
		t.Errorf("attempt rows = %d, want 0 on infrastructure failure", f.attempts.count())
	}
	if f.challenges.consumeCalls != 0 {
		t.Errorf("consume calls = %d, want 0; challenge must stay retryable", f.challenges.consumeCalls)
	}
}

func TestVerifyVoice_SpoofBeatsLowSimilarity(t *testing.T) {
	f := newFixture(t)
	f.identity.similarity = 0.5 // below bank_strict 0.85
	f.antispoof.prob = 0.5      // at or above bank_strict 0.3

	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if a.Success || a.Reason != domain.ReasonSpoof {
		t.Errorf("decision = success=%v reason=%s, want SPOOF rejection", a.Success, a.Reason)
	}
}

func TestVerifyVoice_LowSimilaritySkipsTextStage(t *testing.T) {
	f := newFixture(t)
	f.identity.similarity = 0.5
	f.antispoof.prob = 0.1

	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if a.Success || a.Reason != domain.ReasonLowSimilarity {
		t.Errorf("decision = success=%v reason=%s, want LOW_SIMILARITY rejection", a.Success, a.Reason)
	}
	if f.text.callCount() != 0 {
		t.Errorf("text scorer calls = %d, want 0 when fusion already rejected", f.text.callCount())
	}
	if a.Scores.PhraseMatch != nil || a.Scores.PhraseOK != nil {
		t.Error("phrase scores should be absent when the text stage never ran")
	}
	if f.attempts.count() != 1 || f.challenges.consumeCalls != 1 {
		t.Errorf("rejection must still persist one attempt (%d) and consume once (%d)",
			f.attempts.count(), f.challenges.consumeCalls)
	}
}

func TestVerifyVoice_PhraseMismatch(t *testing.T) {
	f := newFixture(t)
	f.text.result = scorer.PhraseResult{Matches: false, Similarity: 0.2}

	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if a.Success || a.Reason != domain.ReasonPhraseMismatch {
		t.Errorf("decision = success=%v reason=%s, want PHRASE_MISMATCH", a.Success, a.Reason)
	}
	if a.ConfidenceScore == 0 {
		t.Error("confidence should carry the fused score even on phrase rejection")
	}
}

func TestVerifyVoice_LostConsumeRace(t *testing.T) {
	f := newFixture(t)
	f.challenges.loseRace = true

	_, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "")
	var stateErr *ChallengeStateError
	if !errors.As(err, &stateErr) || stateErr.State != chdomain.StateAlreadyUsed {
		t.Fatalf("err = %v, want ChallengeStateError ALREADY_USED", err)
	}
	if f.attempts.count() != 0 {
		t.Errorf("attempt rows = %d, want 0; the race winner owns the record", f.attempts.count())
	}
}

func TestVerifyVoice_InputValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name            string
		user, challenge string
		audio           []byte
	}{
		{"empty user", "", "ch-1", []byte("wav")},
		{"empty audio", "u1", "ch-1", nil},
		{"empty challenge", "u1", "", []byte("wav")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.VerifyVoice(context.Background(), tc.user, tc.audio, tc.challenge, "")
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
	if f.attempts.count() != 0 || f.challenges.consumeCalls != 0 {
		t.Error("validation failures must not persist or consume anything")
	}
}

func TestVerifyVoice_UnknownPolicy(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "no-such-profile")
	if !errors.Is(err, policy.ErrUnknownProfile) {
		t.Errorf("err = %v, want ErrUnknownProfile", err)
	}
}

func TestVerifyVoice_WeightedFusionPolicy(t *testing.T) {
	f := newFixture(t)
	// standard: weights 0.6/0.4, fusion threshold 0.65.
	f.identity.similarity = 0.7 // below the 0.75 identity threshold on its own
	f.antispoof.prob = 0.1      // fused = 0.42 + 0.36 = 0.78 >= 0.65

	a, err := f.pipeline.VerifyVoice(context.Background(), "u1", []byte("wav"), "ch-1", "standard")
	if err != nil {
		t.Fatalf("VerifyVoice: %v", err)
	}
	if !a.Success {
		t.Errorf("weighted fusion should pass with fused=%g", a.ConfidenceScore)
	}
}
