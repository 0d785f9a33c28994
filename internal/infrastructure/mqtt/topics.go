package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "keystone"

// Topics builds Keystone MQTT topics under a prefix.
//
//	topics := mqtt.NewTopics("keystone")
//	topics.AuthEvent("login_failed")
//	// Returns: "keystone/auth/events/login_failed"
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder. Surrounding slashes are trimmed from
// prefix and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// AuthEvent returns the topic for one auth event type.
//
// Example: keystone/auth/events/registered
func (t Topics) AuthEvent(eventType string) string {
	return t.prefix + "/auth/events/" + eventType
}

// AllAuthEvents returns a wildcard matching every auth event.
//
// Example: keystone/auth/events/+
func (t Topics) AllAuthEvents() string {
	return t.AuthEvent("+")
}

// SystemStatus returns the retained service status topic.
//
// Example: keystone/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}
