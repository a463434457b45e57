package broadcast

import (
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/infrastructure/mqtt"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// Publisher is the part of *mqtt.Client the mirror uses.
type Publisher interface {
	PublishDefault(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// Mirror republishes relayed messages to MQTT. Door events are retained
// so a late subscriber sees the current door state; anything else is
// published on the sender's relay topic.
type Mirror struct {
	pub    Publisher
	topics mqtt.Topics
	logger *logging.Logger
}

// NewMirror creates a mirror. A nil pub yields a mirror that does nothing.
func NewMirror(pub Publisher, topics mqtt.Topics, logger *logging.Logger) *Mirror {
	return &Mirror{pub: pub, topics: topics, logger: logger}
}

// Publish mirrors one message. Failures are logged, never returned:
// MQTT is an optional side channel and must not hold up listeners.
func (m *Mirror) Publish(msg schema.Message) {
	if m == nil || m.pub == nil {
		return
	}

	payload, err := msg.Encode()
	if err != nil {
		m.logger.Error("encoding mirrored message", "error", err)
		return
	}
	payload = payload[:len(payload)-1]

	if msg.Event() != "" {
		err = m.pub.PublishRetained(m.topics.DoorEvent(msg.SourceID()), payload)
	} else {
		err = m.pub.PublishDefault(m.topics.Relay(msg.SourceID()), payload)
	}
	if err != nil {
		m.logger.Debug("mqtt mirror publish failed", "source_id", msg.SourceID(), "error", err)
	}
}
