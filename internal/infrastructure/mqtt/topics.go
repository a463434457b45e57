package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "secbot"

// Topics builds the MQTT topics the broadcast mirror publishes on.
//
//	topics := mqtt.Topics{Prefix: "secbot"}
//	topics.DoorEvent("front_door_latch") // "secbot/event/front_door_latch"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// DoorEvent returns the topic for status events emitted by one bus endpoint
// (messages carrying src_id and event).
//
// Example: secbot/event/front_door_latch
func (t Topics) DoorEvent(sourceID string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), sanitizeLevel(sourceID))
}

// Relay returns the topic for any other message relayed by the broadcast
// service, keyed by the sender's endpoint address.
//
// Example: secbot/relay/authorizer
func (t Topics) Relay(sourceID string) string {
	return fmt.Sprintf("%s/relay/%s", t.prefix(), sanitizeLevel(sourceID))
}

// SystemStatus returns the retained online/offline topic of the mirror itself.
//
// Example: secbot/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllEvents returns a wildcard matching every door event.
//
// Example: secbot/event/+
func (t Topics) AllEvents() string {
	return t.prefix() + "/event/+"
}

// sanitizeLevel keeps a peer-supplied identifier from injecting extra topic
// levels or wildcards.
func sanitizeLevel(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
