// Package schema validates raw input records against the expected record
// shape before they enter the pipeline.
package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// recordSchema is the JSON schema for one JSONL input record. Only the
// fields the pipeline requires are constrained; everything else (the
// configuration tree in particular) is deliberately left open.
const recordSchema = `{
	"type": "object",
	"required": ["model_name", "benchmark", "dataset", "baseline", "benchmark_metrics"],
	"properties": {
		"model_name": {"type": "string", "minLength": 1},
		"benchmark": {"type": "string", "minLength": 1},
		"dataset": {"type": "string", "minLength": 1},
		"baseline": {"type": "string"},
		"config": {"type": "object"},
		"benchmark_metrics": {
			"type": "object",
			"additionalProperties": {"type": "number"}
		},
		"average_local_error": {"type": ["number", "null"]},
		"average_density": {"type": ["number", "null"]},
		"overall_score": {"type": ["number", "null"]},
		"aux_memory": {"type": ["number", "null"]},
		"density_target": {"type": ["number", "null"]}
	}
}`

// Validator checks input records against the record schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the embedded record schema.
func NewValidator() (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile record schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks one raw JSON record. It returns the list of violations;
// an empty list means the record is well-formed.
func (v *Validator) Validate(raw []byte) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return violations, nil
}
