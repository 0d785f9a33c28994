package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/keystone-auth/internal/auth"
)

// AuthEventsMeasurement holds one point per auth event.
const AuthEventsMeasurement = "auth_events"

// Publish records an auth event as a point in AuthEventsMeasurement.
//
// type and reason are tags; the user id is a field so it does not blow up
// series cardinality. Emails are never written.
func (c *Client) Publish(_ context.Context, event auth.Event) {
	tags := map[string]string{"type": string(event.Type)}
	if event.Reason != "" {
		tags["reason"] = event.Reason
	}

	fields := map[string]any{"count": 1}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	if !c.IsConnected() {
		return
	}
	// Non-blocking: points are batched and failures reach the SetOnError callback.
	c.writeAPI.WritePoint(write.NewPoint(AuthEventsMeasurement, tags, fields, at))
}
