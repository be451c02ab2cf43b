package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicegate/backend/internal/challenge/domain"
)

// PostgresRepository persists challenges in the challenges table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a challenge repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the challenge. The challenge must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (id, user_id, phrase_id, phrase_text, difficulty, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.PhraseID, c.PhraseText, c.Difficulty, c.CreatedAt, c.ExpiresAt,
	)
	return err
}

// GetByID returns the challenge for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, phrase_id, phrase_text, difficulty, created_at, expires_at, used_at
		FROM challenges WHERE id = $1`, id)
	var c domain.Challenge
	var usedAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.PhraseID, &c.PhraseText, &c.Difficulty, &c.CreatedAt, &c.ExpiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	return &c, nil
}

// MarkUsed consumes the challenge with a conditional update. The WHERE on
// used_at IS NULL makes racing callers resolve to exactly one winner.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE challenges SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountActiveByUser counts unused, unexpired challenges for the user.
func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM challenges WHERE user_id = $1 AND used_at IS NULL AND expires_at > $2`,
		userID, now,
	).Scan(&n)
	return n, err
}

// CountCreatedSince counts challenges created for the user since the given time.
func (r *PostgresRepository) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM challenges WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&n)
	return n, err
}

// RecentPhraseIDs returns phrase ids of the user's newest challenges.
func (r *PostgresRepository) RecentPhraseIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT phrase_id FROM challenges WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteExpired removes unused challenges that expired before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE used_at IS NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PostgresPhraseRepository reads the phrase pool from the phrases table.
type PostgresPhraseRepository struct {
	db *sql.DB
}

// NewPostgresPhraseRepository returns a phrase repository using the given db.
func NewPostgresPhraseRepository(db *sql.DB) *PostgresPhraseRepository {
	return &PostgresPhraseRepository{db: db}
}

// ListByDifficulty returns all phrases at the given difficulty.
func (r *PostgresPhraseRepository) ListByDifficulty(ctx context.Context, difficulty int) ([]*domain.Phrase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, text, difficulty FROM phrases WHERE difficulty = $1 ORDER BY id`, difficulty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Phrase
	for rows.Next() {
		p := &domain.Phrase{}
		if err := rows.Scan(&p.ID, &p.Text, &p.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
