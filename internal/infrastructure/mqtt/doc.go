// Package mqtt mirrors the secbot broadcast feed onto an MQTT broker.
//
// The bus is the only path into the door; MQTT is an outbound copy for
// dashboards and home-automation consumers. This package therefore only
// publishes and never subscribes.
//
// # Topics
//
//	<prefix>/event/<src_id>    door status events (retained)
//	<prefix>/relay/<source_id> any other relayed message
//	<prefix>/system/status     online/offline of the mirror (retained, LWT)
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is off-host
//   - Peer-supplied identifiers are sanitised before they become topic levels
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: "secbot"}, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishRetained(client.Topics().DoorEvent("front_door_latch"), payload)
package mqtt
