// Package rfid reads badge identifiers from a keyboard-emulating RFID
// reader and asks the authorizer to open the door for each one.
//
// The reader is a Linux input device. Each badge arrives as a run of
// digit key releases terminated by Enter. For bench use the identifiers
// can also be read one per line from stdin.
//
// Identities are never logged. The reader does not learn the decision;
// it only sees the authorizer's acknowledgement.
package rfid
