// Package schema derives JSON Schemas for tool inputs from Go types.
package schema

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// Reflect produces the JSON Schema of T as a plain map, using struct tags
// (json, jsonschema). Nested types are inlined.
func Reflect[T any]() map[string]any {
	var zero T
	s := reflector.Reflect(&zero)

	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// ToolInputSchema converts a schema map into the Anthropic tool input schema.
func ToolInputSchema(m map[string]any) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{Properties: m["properties"]}
	switch req := m["required"].(type) {
	case []string:
		param.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				param.Required = append(param.Required, s)
			}
		}
	}
	return param
}
