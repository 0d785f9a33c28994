// Package mqtt publishes Keystone auth events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - An auth.EventSink that maps each event to its own topic
//
// # Topics
//
// All topics hang off the configured prefix (default "keystone"):
//
//	keystone/auth/events/{type}   one message per auth event, not retained
//	keystone/system/status        online/offline, retained, also the LWT
//
// Event payloads are the JSON form of auth.Event. They carry identifiers and
// reasons only, never passwords, hashes or tokens.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := mqtt.NewEventPublisher(client, cfg.MQTT, logger)
package mqtt
