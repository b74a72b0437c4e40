package planner

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaDoc is the JSON Schema the LLM's structured plan output must
// satisfy before it is trusted: required fields, valid work_type shape,
// bounded parameter counts (spec §4.6: "required fields, valid work_type,
// bounded parameters").
const planSchemaDoc = `{
  "type": "object",
  "required": ["summary", "tasks"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "maxItems": 64,
      "items": {
        "type": "object",
        "required": ["work_type", "parameters"],
        "properties": {
          "work_type": {"type": "string", "minLength": 1},
          "parameters": {"type": "object", "maxProperties": 32},
          "services_touched": {"type": "array", "items": {"type": "string"}, "maxItems": 16},
          "max_duration_seconds": {"type": "integer", "minimum": 0},
          "max_memory_mb": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

// SchemaValidator validates raw plan JSON against planSchemaDoc.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(planSchemaDoc)))
	if err != nil {
		return nil, fmt.Errorf("parse plan schema: %w", err)
	}
	const resourceName = "plan.json"
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

func (v *SchemaValidator) Validate(planDoc interface{}) error {
	if err := v.schema.Validate(planDoc); err != nil {
		return fmt.Errorf("plan schema validation: %w", err)
	}
	return nil
}
