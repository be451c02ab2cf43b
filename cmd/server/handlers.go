package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	chservice "voicegate/backend/internal/challenge/service"
	"voicegate/backend/internal/policy"
	verifservice "voicegate/backend/internal/verification/service"
)

type challengeRequest struct {
	UserID     string `json:"user_id"`
	Difficulty int    `json:"difficulty"`
	Count      int    `json:"count"`
}

type challengeResponse struct {
	ID         string    `json:"id"`
	PhraseText string    `json:"phrase_text"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
	Token      string    `json:"token,omitempty"`
}

// challengeHandler issues one challenge, or a batch when count > 1.
func challengeHandler(issuer *chservice.Issuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req challengeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.Count < 1 {
			req.Count = 1
		}
		issued, err := issuer.CreateBatch(r.Context(), req.UserID, req.Difficulty, req.Count)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		out := make([]challengeResponse, len(issued))
		for i, is := range issued {
			out[i] = challengeResponse{
				ID:         is.Challenge.ID,
				PhraseText: is.Challenge.PhraseText,
				Difficulty: is.Challenge.Difficulty,
				ExpiresAt:  is.Challenge.ExpiresAt,
				Token:      is.Token,
			}
		}
		writeJSON(w, http.StatusCreated, map[string]any{"challenges": out})
	}
}

type verifyRequest struct {
	UserID      string `json:"user_id"`
	Audio       string `json:"audio"` // base64
	ChallengeID string `json:"challenge_id"`
	Policy      string `json:"policy"`
}

// verifyHandler runs the verification pipeline for one attempt.
func verifyHandler(pipeline *verifservice.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio must be base64")
			return
		}
		attempt, err := pipeline.VerifyVoice(r.Context(), req.UserID, audio, req.ChallengeID, req.Policy)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"attempt_id":         attempt.ID,
			"success":            attempt.Success,
			"reason":             attempt.Reason,
			"confidence":         attempt.ConfidenceScore,
			"processing_time_ms": attempt.ProcessingTimeMS,
			"policy":             attempt.PolicyName,
		})
	}
}

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		rateErr   *chservice.RateLimitError
		gateErr   *chservice.GateDeniedError
		valErr    *verifservice.ValidationError
		stateErr  *verifservice.ChallengeStateError
		infraErr  *verifservice.ScorerInfrastructureError
		configErr *policy.ConfigError
	)
	switch {
	case errors.As(err, &rateErr):
		writeError(w, http.StatusTooManyRequests, rateErr.Error())
	case errors.As(err, &gateErr):
		writeError(w, http.StatusTooManyRequests, gateErr.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Error())
	case errors.Is(err, policy.ErrUnknownProfile), errors.As(err, &configErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chservice.ErrEmptyPhrasePool):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, stateErr.Error())
	case errors.As(err, &infraErr):
		writeError(w, http.StatusServiceUnavailable, infraErr.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
