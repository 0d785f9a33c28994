package audit

import (
	"context"

	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
)

// Sink writes auth events to the audit trail.
type Sink struct {
	repo   Repository
	logger *logging.Logger
}

// NewSink creates an event sink backed by repo.
func NewSink(repo Repository, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sink{repo: repo, logger: logger}
}

// Publish records event. Write failures are logged, not returned, since the
// request that caused the event has already completed.
func (s *Sink) Publish(ctx context.Context, event auth.Event) {
	if err := s.repo.Create(ctx, FromEvent(event)); err != nil {
		s.logger.Error("audit log write failed",
			"action", event.Type,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

// FromEvent converts an auth event to an audit entry.
func FromEvent(event auth.Event) *AuditLog {
	entry := &AuditLog{
		Action:    string(event.Type),
		UserID:    event.UserID,
		Email:     event.Email,
		Source:    event.Source,
		CreatedAt: event.At,
	}
	if event.Reason != "" {
		entry.Details = map[string]any{"reason": event.Reason}
	}
	return entry
}
