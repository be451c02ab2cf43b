// Package security issues and validates the signed challenge tokens that
// bind a verification attempt to one issued challenge. The API layer hands
// the token to the client with the phrase; the token carries no secret, it
// only makes the challenge binding tamper-evident.
package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a challenge token is malformed, expired,
// or fails signature/issuer/audience checks.
var ErrInvalidToken = errors.New("security: invalid challenge token")

// ChallengeClaims are the JWT claims on a challenge token. Subject is the
// user the challenge was issued to; ID is the challenge id.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	PhraseID string `json:"phrase_id"`
	Profile  string `json:"profile,omitempty"`
}

// TokenProvider signs challenge tokens with RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
}

// NewTokenProvider returns a TokenProvider signing with privateKey and
// validating with publicKey. issuer and audience are set on every token and
// checked on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
	}
}

// IssueChallenge signs a token for the given challenge. expiresAt must match
// the challenge row's expiry so the token can never outlive the challenge.
func (p *TokenProvider) IssueChallenge(challengeID, userID, phraseID, profile string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        challengeID,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PhraseID: phraseID,
		Profile:  profile,
	}
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// ValidateChallenge parses and validates a challenge token (signature, exp,
// iss, aud) and returns the bound challenge and user ids. Validation here is
// transport-level only; challenge state (used, wrong user) is still checked
// against the store by the validator.
func (p *TokenProvider) ValidateChallenge(tokenString string) (challengeID, userID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &ChallengeClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return "", "", ErrInvalidToken
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return "", "", ErrInvalidToken
	}
	return claims.ID, claims.Subject, nil
}
