package auth

import (
	"context"
	"time"
)

// EventType names an authentication event.
type EventType string

const (
	EventRegistered     EventType = "registered"
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginFailed    EventType = "login_failed"
	EventRefreshed      EventType = "refreshed"
	EventTokenRejected  EventType = "token_rejected"
)

// Event describes something that happened to an identity. Events never carry
// passwords, hashes or tokens.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId,omitempty"`
	Email  string    `json:"email,omitempty"`
	// Source is the client address when known.
	Source string `json:"source,omitempty"`
	// Reason explains failures (for example "unknown_email" or "expired").
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// EventSink receives auth events. Publish must not block the caller for
// long; slow sinks buffer or drop.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

type sourceKey struct{}

// WithSource records the client address on ctx so emitted events carry it.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

type noopSink struct{}

func (noopSink) Publish(context.Context, Event) {}
