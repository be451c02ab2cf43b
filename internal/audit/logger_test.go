package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voicegate/backend/internal/audit/domain"
)

type memAuditRepo struct {
	mu         sync.Mutex
	entries    []*domain.AuditLog
	failCreate bool
}

func (m *memAuditRepo) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.entries {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memAuditRepo) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditLog
	for _, a := range m.entries {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAuditRepo) Create(ctx context.Context, a *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("db down")
	}
	m.entries = append(m.entries, a)
	return nil
}

func TestLogEvent_PersistsEntry(t *testing.T) {
	repo := &memAuditRepo{}
	l := NewLogger(repo, nil)
	l.LogEvent(context.Background(), "u1", "verify_decision", "verification", `{"reason":"OK"}`)

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.UserID != "u1" || e.Action != "verify_decision" || e.Resource != "verification" {
		t.Errorf("entry = %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("entry should have generated ID and timestamp")
	}
}

func TestLogEvent_BestEffortOnFailure(t *testing.T) {
	repo := &memAuditRepo{failCreate: true}
	l := NewLogger(repo, nil)
	// Must not panic or propagate the error.
	l.LogEvent(context.Background(), "u1", "challenge_created", "challenge", "")
}

func TestLogEvent_NilRepoIsNoop(t *testing.T) {
	l := NewLogger(nil, nil)
	l.LogEvent(context.Background(), "u1", "verify_decision", "verification", "")
}
