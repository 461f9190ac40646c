// Package mqtt publishes connectivity snapshots and events to the MQTT broker.
//
// The Publisher is fire-and-forget: Publish never returns an error to the
// monitor loops. It keeps an explicit two-state machine:
//
//	Disconnected --publish/connect ok--> Connected
//	Connected    --any failure-------->  Disconnected
//
// A publish while Disconnected makes exactly one connect attempt first, so
// a tick is delayed by at most one connect timeout plus one publish
// acknowledgement wait when the broker is down.
//
// State channels (GRD and relay snapshots, fleet aggregate) are retained
// with QoS 1. The event channel carries transitions with QoS 1, not retained.
//
// # Security Considerations
//
//   - TLS is on by default (cfg.Broker.TLS=true)
//   - tls_insecure skips certificate verification and is meant for brokers
//     with self-signed certificates on an isolated network
//
// # Usage
//
//	pub := mqtt.NewPublisher(cfg.MQTT)
//	pub.SetLogger(logger)
//	defer pub.Close()
//
//	channels := mqtt.NewChannels(cfg.MQTT.Topics)
//	pub.Publish(channels.GRDs, map[string]bool{"5": true})
package mqtt
