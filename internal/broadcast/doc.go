// Package broadcast relays bus traffic to external listeners.
//
// The broadcast endpoint accepts any JSON object that names its sender.
// Each message is fanned out, unvalidated, to:
//
//   - TCP listeners: "Connected\r\n" on connect, then one JSON object per
//     "\r\n"-terminated line; "501 Max Clients\r\n" when full
//   - WebSocket listeners: one text frame per message
//   - MQTT, when a broker is configured (door events retained)
//
// Listeners never influence the service. Each has a bounded queue and is
// dropped when it falls behind or disconnects, without delaying the rest.
package broadcast
