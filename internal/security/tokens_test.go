package security

import (
	"testing"
	"time"
)

func TestIssueAndValidateChallenge(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	expires := time.Now().UTC().Add(5 * time.Minute)
	token, err := p.IssueChallenge("ch-1", "user-1", "phrase-7", "standard", expires)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	chID, userID, err := p.ValidateChallenge(token)
	if err != nil {
		t.Fatalf("ValidateChallenge: %v", err)
	}
	if chID != "ch-1" || userID != "user-1" {
		t.Errorf("got (%q, %q), want (ch-1, user-1)", chID, userID)
	}
}

func TestValidateChallenge_RejectsExpired(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, err := p.IssueChallenge("ch-1", "user-1", "phrase-7", "standard", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if _, _, err := p.ValidateChallenge(token); err != ErrInvalidToken {
		t.Errorf("ValidateChallenge = %v, want ErrInvalidToken", err)
	}
}

func TestValidateChallenge_RejectsGarbage(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, _, err := p.ValidateChallenge("not.a.token"); err != ErrInvalidToken {
		t.Errorf("ValidateChallenge = %v, want ErrInvalidToken", err)
	}
}

func TestValidateChallenge_RejectsWrongIssuer(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	issuer := NewTokenProvider(signer, pub, "other-issuer", "voicegate-verify")
	token, err := issuer.IssueChallenge("ch-1", "user-1", "phrase-7", "standard", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	validator := NewTokenProvider(signer, pub, "voicegate-challenge", "voicegate-verify")
	if _, _, err := validator.ValidateChallenge(token); err != ErrInvalidToken {
		t.Errorf("ValidateChallenge = %v, want ErrInvalidToken", err)
	}
}
