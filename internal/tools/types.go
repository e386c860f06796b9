// Package tools holds the registry of callable tools the model may invoke
// during a turn, plus the builtin Rainbow City tools.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Handler executes a tool. The returned value is converted to text before it
// is handed back to the model.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Parameter types understood by argument validation.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Optional    bool
	Enum        []string
}

// Property is the JSON-schema fragment for a single parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is the JSON-schema-like parameter object sent to the model.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Definition is the model-facing description of a registered tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// NewSchema builds the parameter object for params; required lists every
// non-optional parameter in declaration order.
func NewSchema(params []Parameter) Schema {
	s := Schema{
		Type:       TypeObject,
		Properties: make(map[string]Property, len(params)),
		Required:   []string{},
	}
	for _, p := range params {
		s.Properties[p.Name] = Property{Type: p.Type, Description: p.Description, Enum: p.Enum}
		if !p.Optional {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrRegistryFrozen is returned by Register once the registry has been frozen.
var ErrRegistryFrozen = errors.New("tool registry is frozen")

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %s already registered", e.Name)
}

// UnknownToolError is returned when the model names a tool that was never
// registered. It is an internal error, not a tool result.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ToolExecutionError describes a failed invocation. Its text is returned to
// the model in place of a result.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ArgumentError reports an argument that does not match the declared schema.
type ArgumentError struct {
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Reason)
}
