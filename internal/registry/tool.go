package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/notewire/mcp-gateway/internal/mcp"
)

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description string
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// NewTool builds a Tool from a typed args struct A and result struct O. It
// reflects JSON Schemas for both, validates incoming arguments against the
// input schema before the body runs (unknown fields rejected), and packages
// the body's result as both a serialized text block and structuredContent.
func NewTool[A, O any](name string, fn func(ctx context.Context, args A) (O, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectInputSchema[A]()
	output := reflectOutputSchema[O]()
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: input,
	}
	if output != nil {
		desc.OutputSchema = output
	}

	handler := func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
		if verr := validateArgs(name, raw, input); verr != nil {
			return nil, verr
		}
		var a A
		if len(raw) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return nil, decodeError(name, err)
			}
		}
		out, err := fn(ctx, a)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content:           []mcp.ContentBlock{{Type: "text", Text: string(b)}},
			StructuredContent: out,
		}, nil
	}

	return Tool{Descriptor: desc, Handler: handler}
}

// validateArgs checks raw against the reflected input schema: the payload
// must be a JSON object, required fields must be present, and only declared
// fields are accepted. The returned ValidationError names the offending field
// and the shape the schema wanted.
func validateArgs(tool string, raw json.RawMessage, schema mcp.ToolInputSchema) *ValidationError {
	var obj map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return &ValidationError{Tool: tool, Want: "object"}
		}
	}
	for _, field := range schema.Required {
		if _, ok := obj[field]; !ok {
			want := "value"
			if prop, ok := schema.Properties[field]; ok && prop.Type != "" {
				want = prop.Type
			}
			return &ValidationError{Tool: tool, Field: field, Want: want}
		}
	}
	if !schema.AdditionalProperties {
		for key := range obj {
			if _, ok := schema.Properties[key]; !ok {
				return &ValidationError{Tool: tool, Field: key, Want: "no such field"}
			}
		}
	}
	return nil
}

// decodeError maps a strict-decode failure onto the validation taxonomy,
// preserving the field path when encoding/json surfaces one.
func decodeError(tool string, err error) *ValidationError {
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return &ValidationError{Tool: tool, Field: te.Field, Want: te.Type.String()}
	}
	return &ValidationError{Tool: tool, Want: "arguments matching the input schema"}
}

// reflectInputSchema reflects a Go type A into the simplified wire-level
// input schema. Non-object shapes fall back to an empty strict object.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

// reflectOutputSchema reflects a Go type O into the wire-level output schema.
// Array and other non-object results carry no output schema; they are still
// returned as structuredContent.
func reflectOutputSchema[O any]() *mcp.ToolOutputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return nil
	}
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return &mcp.ToolOutputSchema{Type: "object", Properties: props, Required: required}
}

// toSchemaProperty recursively maps a reflected schema node to the simplified
// wire form.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
