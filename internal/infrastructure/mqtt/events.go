package mqtt

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/config"
)

// Publisher is the subset of *Client used by EventPublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventPublisher forwards auth events to MQTT.
type EventPublisher struct {
	client Publisher
	topics Topics
	qos    byte
	logger Logger
}

// NewEventPublisher creates an auth.EventSink publishing to
// {prefix}/auth/events/{type} at the configured QoS.
func NewEventPublisher(client Publisher, cfg config.MQTTConfig, logger Logger) *EventPublisher {
	return &EventPublisher{
		client: client,
		topics: NewTopics(cfg.TopicPrefix),
		qos:    byte(cfg.QoS), //nolint:gosec // QoS validated to 0-2 by config
		logger: logger,
	}
}

// Publish sends event as JSON. Failures are logged and dropped; the broker
// being away must not affect authentication.
func (p *EventPublisher) Publish(_ context.Context, event auth.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.warn("marshalling auth event", event, err)
		return
	}

	if err := p.client.Publish(p.topics.AuthEvent(string(event.Type)), payload, p.qos, false); err != nil {
		p.warn("publishing auth event", event, err)
	}
}

func (p *EventPublisher) warn(msg string, event auth.Event, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, "type", event.Type, "error", err)
	}
}
