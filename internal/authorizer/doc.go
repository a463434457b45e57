// Package authorizer decides which permission requests are granted.
//
// Requests arrive on the authorizer's bus endpoint, usually from an RFID
// reader. Each is acknowledged to its sender, then:
//
//   - if it targets the authorizer itself it is a command; /reload
//     re-reads the ACL file, keeping the old table if the new one is
//     invalid
//   - otherwise every permission is evaluated against the ACL, marked
//     with a grant boolean, and the request is forwarded to its target
//     from the authorizer's own address, with origin_id naming the reader
//
// Only /open is an authority; any other permission is forwarded denied.
// Every decision is written to the audit trail and counted in telemetry.
//
// The ACL file is YAML:
//
//	levels:
//	  member:
//	    hours: [0, 24]   # start <= hour < end, local time
//	rfids:
//	  <sponsor>:
//	    - id: "0001234567"
//	      level: member
package authorizer
