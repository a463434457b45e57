package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const baseURL = "https://queeriouslabs.org/secbot/schema/"

// Kind names one of the message schemas.
type Kind string

// Message kinds.
const (
	KindPermission Kind = "permission"
	KindRequest    Kind = "request"
	KindResponse   Kind = "response"
	KindGrant      Kind = "grant"
	KindEvent      Kind = "event"
	KindError      Kind = "error"
)

var allKinds = []Kind{KindPermission, KindRequest, KindResponse, KindGrant, KindEvent, KindError}

var compiled = sync.OnceValues(compileAll)

// compileAll registers every embedded document before compiling any, so
// relative $refs between them resolve without a loader.
func compileAll() (map[Kind]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	for _, k := range allKinds {
		data, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("reading %s schema: %w", k, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing %s schema: %w", k, err)
		}
		if err := c.AddResource(baseURL+string(k)+".json", doc); err != nil {
			return nil, fmt.Errorf("adding %s schema: %w", k, err)
		}
	}

	out := make(map[Kind]*jsonschema.Schema, len(allKinds))
	for _, k := range allKinds {
		sch, err := c.Compile(baseURL + string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compiling %s schema: %w", k, err)
		}
		out[k] = sch
	}
	return out, nil
}

// Validate checks v against the schema for kind.
//
// v may be a Message or any value that marshals to a JSON object; it is
// round-tripped through encoding/json first so Go-typed values validate
// the same way as decoded wire traffic.
//
// Returns:
//   - error: wraps ErrInvalid (and the *jsonschema.ValidationError) on failure
func Validate(kind Kind, v any) error {
	schemas, err := compiled()
	if err != nil {
		return err
	}
	sch, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}

	doc, err := normalize(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, kind, err)
	}
	return nil
}

// Is reports whether v satisfies the schema for kind.
func Is(kind Kind, v any) bool {
	return Validate(kind, v) == nil
}

// normalize converts v into the plain map/slice/json.Number tree the
// validator understands.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
