package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voicegate/backend/internal/verification/domain"
)

// PostgresAttemptRepository persists attempt results in the auth_attempts table.
type PostgresAttemptRepository struct {
	db *sql.DB
}

// NewPostgresAttemptRepository returns an attempt repository backed by db.
func NewPostgresAttemptRepository(db *sql.DB) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{db: db}
}

// Create inserts one attempt row. The result must have ID set.
func (r *PostgresAttemptRepository) Create(ctx context.Context, a *domain.AuthAttemptResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (
			id, user_id, challenge_id, success, reason, confidence_score,
			processing_time_ms, similarity, spoof_probability, phrase_match,
			inference_latency_ms, policy_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.UserID, a.ChallengeID, a.Success, string(a.Reason), a.ConfidenceScore,
		a.ProcessingTimeMS, nullFloat(a.Scores.Similarity), nullFloat(a.Scores.SpoofProbability),
		nullFloat(a.Scores.PhraseMatch), a.Scores.InferenceLatencyMS, a.PolicyName, a.Timestamp)
	return err
}

// GetByID returns the attempt for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresAttemptRepository) GetByID(ctx context.Context, id string) (*domain.AuthAttemptResult, error) {
	row := r.db.QueryRowContext(ctx, attemptColumns+` WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListByUser returns the user's attempts, newest first.
func (r *PostgresAttemptRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthAttemptResult, error) {
	rows, err := r.db.QueryContext(ctx, attemptColumns+`
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuthAttemptResult
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountFailuresSince returns the number of failed attempts at or after since.
func (r *PostgresAttemptRepository) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM auth_attempts
		WHERE user_id = $1 AND success = FALSE AND created_at >= $2`,
		userID, since).Scan(&n)
	return n, err
}

const attemptColumns = `
	SELECT id, user_id, challenge_id, success, reason, confidence_score,
	       processing_time_ms, similarity, spoof_probability, phrase_match,
	       inference_latency_ms, policy_name, created_at
	FROM auth_attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*domain.AuthAttemptResult, error) {
	var a domain.AuthAttemptResult
	var reason string
	var sim, spoof, phrase sql.NullFloat64
	if err := row.Scan(&a.ID, &a.UserID, &a.ChallengeID, &a.Success, &reason,
		&a.ConfidenceScore, &a.ProcessingTimeMS, &sim, &spoof, &phrase,
		&a.Scores.InferenceLatencyMS, &a.PolicyName, &a.Timestamp); err != nil {
		return nil, err
	}
	a.Reason = domain.Reason(reason)
	a.Scores.Similarity = fromNullFloat(sim)
	a.Scores.SpoofProbability = fromNullFloat(spoof)
	a.Scores.PhraseMatch = fromNullFloat(phrase)
	return &a, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// PostgresEnrollmentRepository persists voice signatures in the enrollments
// table. Embeddings are stored as a JSON array.
type PostgresEnrollmentRepository struct {
	db *sql.DB
}

// NewPostgresEnrollmentRepository returns an enrollment repository backed by db.
func NewPostgresEnrollmentRepository(db *sql.DB) *PostgresEnrollmentRepository {
	return &PostgresEnrollmentRepository{db: db}
}

// GetByUserID returns the user's enrollment, or nil if the user has never
// enrolled. It returns an error only for database failures.
func (r *PostgresEnrollmentRepository) GetByUserID(ctx context.Context, userID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, embedding, sample_count, created_at, updated_at
		FROM enrollments WHERE user_id = $1`, userID).
		Scan(&e.UserID, &raw, &e.SampleCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &e.Embedding); err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert inserts or replaces the user's voice signature.
func (r *PostgresEnrollmentRepository) Upsert(ctx context.Context, e *domain.Enrollment) error {
	raw, err := json.Marshal(e.Embedding)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO enrollments (user_id, embedding, sample_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at`,
		e.UserID, raw, e.SampleCount, e.CreatedAt, e.UpdatedAt)
	return err
}
