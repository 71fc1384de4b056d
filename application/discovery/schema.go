package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gantry-dev/gantry/domain/entities"
	domerrors "github.com/gantry-dev/gantry/domain/errors"
)

// SchemaIndex holds the compiled method schemas of one extension instance.
type SchemaIndex struct {
	params  map[string]*jsonschema.Schema
	returns map[string]*jsonschema.Schema
}

// compileSchemas compiles every non-empty schema in the capability set. A
// schema that does not compile fails the whole set.
func compileSchemas(caps []entities.Capability) (*SchemaIndex, error) {
	index := &SchemaIndex{
		params:  make(map[string]*jsonschema.Schema),
		returns: make(map[string]*jsonschema.Schema),
	}

	compiler := jsonschema.NewCompiler()
	for _, c := range caps {
		if len(c.ParamsSchema) > 0 {
			sch, err := compileOne(compiler, c.Name, "params", c.ParamsSchema)
			if err != nil {
				return nil, err
			}
			index.params[c.Name] = sch
		}
		if len(c.ReturnSchema) > 0 {
			sch, err := compileOne(compiler, c.Name, "return", c.ReturnSchema)
			if err != nil {
				return nil, err
			}
			index.returns[c.Name] = sch
		}
	}

	return index, nil
}

func compileOne(compiler *jsonschema.Compiler, method, kind string, schema json.RawMessage) (*jsonschema.Schema, error) {
	resource := fmt.Sprintf("capability/%s/%s.json", method, kind)
	if err := compiler.AddResource(resource, bytes.NewReader(schema)); err != nil {
		return nil, &domerrors.InitializationFailedError{
			Err: err,
			Msg: fmt.Sprintf("capability %q: malformed %s schema: %v", method, kind, err),
		}
	}
	sch, err := compiler.Compile(resource)
	if err != nil {
		return nil, &domerrors.InitializationFailedError{
			Err: err,
			Msg: fmt.Sprintf("capability %q: invalid %s schema: %v", method, kind, err),
		}
	}
	return sch, nil
}

// HasParamsSchema reports whether the method declared a params schema.
func (idx *SchemaIndex) HasParamsSchema(method string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.params[method]
	return ok
}

// ValidateParams checks call params against the method's declared schema.
// Methods without a schema accept anything.
func (idx *SchemaIndex) ValidateParams(method string, params []byte) error {
	if idx == nil {
		return nil
	}
	sch, ok := idx.params[method]
	if !ok {
		return nil
	}

	var obj interface{}
	if err := json.Unmarshal(params, &obj); err != nil {
		return &domerrors.SerializationError{Err: err, Operation: "decode call params"}
	}

	if err := sch.Validate(obj); err != nil {
		return fmt.Errorf("params for method %q rejected by schema: %w", method, err)
	}
	return nil
}
