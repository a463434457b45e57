// Package schema defines the messages exchanged on the secbot bus and
// validates them against embedded JSON Schema documents.
//
// Six kinds are defined: permission, request, response, grant, event and
// error. Requests carry a non-empty permissions array; the authorizer
// forwards a request with a boolean "grant" added to each permission.
//
//	{"source_id":"front_door_rfid","target_id":"front_door_latch",
//	 "permissions":[{"perm":"/open","context":{"identity":"0001234567"}}]}
//
// Messages travel as one JSON object per "\n"-terminated line.
package schema
