// Package schema compiles and applies per-resource, per-verb JSON Schemas
// for request body validation. Schemas are opt-in: a resource×verb pair
// without one passes trivially.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Verbs that can carry a validated request body.
const (
	VerbPost  = "post"
	VerbPut   = "put"
	VerbPatch = "patch"
)

// ResourceSchemas holds the raw JSON Schema documents for one resource.
type ResourceSchemas struct {
	Post  map[string]any `yaml:"post,omitempty" json:"post,omitempty"`
	Put   map[string]any `yaml:"put,omitempty" json:"put,omitempty"`
	Patch map[string]any `yaml:"patch,omitempty" json:"patch,omitempty"`
}

// Set is an immutable resource×verb index of compiled validators, built once
// at startup and shared by reference for the process lifetime.
type Set struct {
	validators map[string]map[string]*jsonschema.Schema
}

// Compile builds a Set from raw schema documents, keyed by lower-cased
// resource name. A nil or empty input yields a Set that validates nothing.
func Compile(docs map[string]ResourceSchemas) (*Set, error) {
	set := &Set{validators: make(map[string]map[string]*jsonschema.Schema)}

	for resource, rs := range docs {
		verbs := map[string]map[string]any{
			VerbPost:  rs.Post,
			VerbPut:   rs.Put,
			VerbPatch: rs.Patch,
		}
		for verb, doc := range verbs {
			if doc == nil {
				continue
			}
			compiled, err := compileDocument(doc)
			if err != nil {
				return nil, fmt.Errorf("schema for %s.%s: %w", resource, verb, err)
			}
			key := strings.ToLower(resource)
			if set.validators[key] == nil {
				set.validators[key] = make(map[string]*jsonschema.Schema)
			}
			set.validators[key][verb] = compiled
		}
	}

	return set, nil
}

func compileDocument(doc map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so YAML-decoded documents get consistent types.
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}

// Validate checks body against the schema configured for (resource, verb).
// It returns nil when valid or when no schema is configured. On failure the
// returned error's message is the first reported violation, verbatim.
func (s *Set) Validate(resource, verb string, body map[string]any) error {
	if s == nil {
		return nil
	}
	compiled := s.validators[strings.ToLower(resource)][verb]
	if compiled == nil {
		return nil
	}

	err := compiled.Validate(normalizeBody(body))
	if err == nil {
		return nil
	}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		return fmt.Errorf("%s", firstViolation(ve))
	}
	return err
}

// normalizeBody round-trips the body through JSON so number types match what
// the validator expects regardless of how the body was produced.
func normalizeBody(body map[string]any) any {
	data, err := json.Marshal(body)
	if err != nil {
		return body
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return body
	}
	return out
}

// firstViolation walks to the first leaf cause and returns its message.
// Only one violation is surfaced; errors are not aggregated.
func firstViolation(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	if err.InstanceLocation != "" && err.InstanceLocation != "/" {
		field := strings.ReplaceAll(strings.TrimPrefix(err.InstanceLocation, "/"), "/", ".")
		return fmt.Sprintf("%s: %s", field, err.Message)
	}
	return err.Message
}
