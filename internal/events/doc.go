// Package events fans auth events out to their consumers.
//
// The Dispatcher is the auth.EventSink handed to auth.Service. Publish only
// enqueues; a single goroutine started by Run delivers each event to every
// sink in order (audit log, MQTT, InfluxDB, metrics, WebSocket hub). When the
// buffer is full the event is dropped with a warning so requests never wait
// on a slow consumer.
package events
