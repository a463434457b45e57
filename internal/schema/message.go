package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Response codes carried in Response.code.
const (
	CodeOK = 0
)

// Message is one decoded bus line.
//
// It stays a generic JSON object so fields a service does not know about
// survive a relay (the broadcast service forwards whatever it receives).
type Message map[string]any

// Permission is one entry of a request's permissions array.
type Permission map[string]any

// Decode parses one line into a Message.
//
// The line must be valid UTF-8 holding exactly one JSON object; numbers
// decode as json.Number. A trailing "\n" or "\r\n" is ignored.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrDecode)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(line))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}
	return Message(obj), nil
}

// Encode returns m as one JSON line terminated by a single "\n".
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return append(data, '\n'), nil
}

// String returns the compact JSON form, for logging.
func (m Message) String() string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%#v", map[string]any(m))
	}
	return string(data)
}

// SourceID returns source_id, falling back to the event field src_id.
func (m Message) SourceID() string {
	if s, ok := m["source_id"].(string); ok && s != "" {
		return s
	}
	s, _ := m["src_id"].(string)
	return s
}

// TargetID returns target_id, or "" when absent.
func (m Message) TargetID() string {
	s, _ := m["target_id"].(string)
	return s
}

// Event returns the event field of an event message.
func (m Message) Event() string {
	s, _ := m["event"].(string)
	return s
}

// Msg returns the msg field of a response.
func (m Message) Msg() string {
	s, _ := m["msg"].(string)
	return s
}

// Code returns the integer code of a response.
func (m Message) Code() (int, bool) {
	return asInt(m["code"])
}

// IsEmpty reports whether m carries no fields (the result of a request
// whose peer closed without answering).
func (m Message) IsEmpty() bool {
	return len(m) == 0
}

// Permissions returns the object entries of the permissions array.
// Entries that are not objects are skipped.
func (m Message) Permissions() []Permission {
	raw, _ := m["permissions"].([]any)
	out := make([]Permission, 0, len(raw))
	for _, item := range raw {
		switch p := item.(type) {
		case map[string]any:
			out = append(out, Permission(p))
		case Permission:
			out = append(out, p)
		}
	}
	return out
}

// SetPermissions replaces the permissions array.
func (m Message) SetPermissions(perms []Permission) {
	items := make([]any, len(perms))
	for i, p := range perms {
		items[i] = map[string]any(p)
	}
	m["permissions"] = items
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	return Message(deepCopy(map[string]any(m)).(map[string]any))
}

// Perm returns the permission name, e.g. "/open".
func (p Permission) Perm() string {
	s, _ := p["perm"].(string)
	return s
}

// Granted reports whether the entry carries grant == true.
func (p Permission) Granted() bool {
	g, _ := p["grant"].(bool)
	return g
}

// Context returns the permission's context object. Older senders use the
// key "ctx"; both are accepted.
func (p Permission) Context() map[string]any {
	if c, ok := p["context"].(map[string]any); ok {
		return c
	}
	c, _ := p["ctx"].(map[string]any)
	return c
}

// HasAction reports whether the permission is action itself or action
// scoped to door: for door "front_door" both "/open" and
// "/front_door/open" match, "/back_door/open" does not. An empty door
// matches action only.
func (p Permission) HasAction(action, door string) bool {
	perm := p.Perm()
	return perm == action || (door != "" && perm == "/"+door+action)
}

// NewPermission builds a permission entry. ctx may be nil.
func NewPermission(perm string, ctx map[string]any) Permission {
	p := Permission{"perm": perm}
	if ctx != nil {
		p["context"] = ctx
	}
	return p
}

// NewRequest builds a request message.
func NewRequest(sourceID, targetID string, perms ...Permission) Message {
	m := Message{
		"source_id": sourceID,
		"target_id": targetID,
	}
	m.SetPermissions(perms)
	return m
}

// NewResponse builds the acknowledgement for req: a copy of req without
// its permissions, plus code and msg. The copy keeps req's source_id, so
// the bus routes it back to the requester.
func NewResponse(req Message, code int, msg string) Message {
	resp := req.Clone()
	if resp == nil {
		resp = Message{}
	}
	delete(resp, "permissions")
	if _, ok := resp["target_id"]; !ok {
		resp["target_id"] = ""
	}
	resp["code"] = code
	resp["msg"] = msg
	return resp
}

// NewEvent builds a status event.
func NewEvent(srcID, event string) Message {
	return Message{
		"src_id": srcID,
		"event":  event,
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case Message:
		return deepCopy(map[string]any(t))
	case Permission:
		return deepCopy(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
