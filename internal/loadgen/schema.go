package loadgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CreateStoreResponseSchema describes the body of a successful POST /stores/.
const CreateStoreResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "url", "setup_job_id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "url": {"type": "string"},
    "setup_job_id": {"type": "string", "minLength": 1}
  }
}`

// BodySchema is a compiled JSON Schema for response bodies.
type BodySchema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles src under the given resource name.
func CompileSchema(name, src string) (*BodySchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &BodySchema{schema: schema}, nil
}

// Validate checks body against the schema.
func (s *BodySchema) Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("response does not match schema: %s", flattenCauses(verr))
		}
		return err
	}
	return nil
}

// flattenCauses joins the leaf messages of a validation error tree.
func flattenCauses(err *jsonschema.ValidationError) string {
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return strings.Join(parts, "; ")
}
