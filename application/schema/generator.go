// Package schema reflects JSON Schemas from Go types for capability
// declarations. Hosts compile the declared schemas at load time and
// validate call params before they cross into the extension.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Reflect builds a self-contained Draft 2020-12 schema for v's type.
// Nested types are inlined so the schema travels inside a capability
// declaration without external references. A struct with no exported
// fields yields nil: it constrains nothing, and a method that declares
// no schema is never validated by the host.
func Reflect(v any) (json.RawMessage, error) {
	if bareStruct(v) {
		return nil, nil
	}
	r := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	return raw, nil
}

// bareStruct reports whether v is a struct (or pointer chain to one) with
// no exported fields.
func bareStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return true
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return false
		}
	}
	return true
}
