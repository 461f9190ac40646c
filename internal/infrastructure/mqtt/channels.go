package mqtt

import "github.com/nerrad567/modbus-mw/internal/infrastructure/config"

// qosAtLeastOnce is used by every channel the middleware publishes to.
const qosAtLeastOnce = 1

// Channel is a topic with fixed delivery flags.
type Channel struct {
	Topic  string
	QoS    byte
	Retain bool
}

// StateChannel returns a retained QoS 1 channel. New subscribers receive
// the last snapshot immediately.
func StateChannel(topic string) Channel {
	return Channel{Topic: topic, QoS: qosAtLeastOnce, Retain: true}
}

// EventChannel returns a non-retained QoS 1 channel.
func EventChannel(topic string) Channel {
	return Channel{Topic: topic, QoS: qosAtLeastOnce, Retain: false}
}

// Channels groups the channels the monitor loops publish to.
type Channels struct {
	// GRDs carries the {id: connected} GRD snapshot.
	GRDs Channel

	// Relays carries the {id: connected} relay snapshot.
	Relays Channel

	// Grado carries the GRD fleet aggregate.
	Grado Channel

	// Events carries individual connectivity transitions.
	Events Channel
}

// NewChannels builds the channel set from configured topic names.
func NewChannels(topics config.MQTTTopicsConfig) Channels {
	return Channels{
		GRDs:   StateChannel(topics.GRDs),
		Relays: StateChannel(topics.Relays),
		Grado:  StateChannel(topics.Grado),
		Events: EventChannel(topics.Events),
	}
}
