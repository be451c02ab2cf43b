package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicegate/backend/internal/audit/domain"
	auditrepo "voicegate/backend/internal/audit/repository"
)

// Recorder writes a single audit event with explicit action/resource. Used by
// the challenge and verification code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type Recorder interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements Recorder using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  *zap.Logger
}

// NewLogger returns a Recorder that persists to repo.
func NewLogger(repo auditrepo.Repository, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, log: log}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("failed to write audit event",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err))
	}
}
