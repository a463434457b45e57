// Package admin implements the operator tooling behind secbotctl.
//
// Client sends the two admin commands over the bus: /reload to the
// authorizer, and a pre-granted /open straight to a latch for a remote
// unlock. Table edits the ACL file in place, validating it before every
// write. Shell wraps both in an interactive editor on a raw terminal.
package admin
