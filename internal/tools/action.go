package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// FuncAction adapts a typed function into an Action. The parameter schema is
// reflected from P.
type FuncAction[P any] struct {
	name        string
	description string
	fn          func(ctx context.Context, params P) (*Result, error)

	schemaOnce sync.Once
	schema     json.RawMessage
}

// NewFuncAction returns an Action named name that decodes its parameters
// into P before calling fn.
func NewFuncAction[P any](name, description string, fn func(ctx context.Context, params P) (*Result, error)) *FuncAction[P] {
	return &FuncAction[P]{name: name, description: description, fn: fn}
}

func (a *FuncAction[P]) Name() string        { return a.name }
func (a *FuncAction[P]) Description() string { return a.description }

func (a *FuncAction[P]) Schema() json.RawMessage {
	a.schemaOnce.Do(func() {
		a.schema = ReflectSchema(new(P))
	})
	return a.schema
}

func (a *FuncAction[P]) Execute(ctx context.Context, raw json.RawMessage) (*Result, error) {
	var params P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", a.name, err)
		}
	}
	return a.fn(ctx, params)
}

// ReflectSchema returns the inline JSON Schema of v's type.
func ReflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}

// RawAction is an Action with a caller-supplied schema.
type RawAction struct {
	ActionName        string
	ActionDescription string
	ActionSchema      json.RawMessage
	Fn                func(ctx context.Context, params json.RawMessage) (*Result, error)
}

func (a *RawAction) Name() string            { return a.ActionName }
func (a *RawAction) Description() string     { return a.ActionDescription }
func (a *RawAction) Schema() json.RawMessage { return a.ActionSchema }

func (a *RawAction) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	return a.Fn(ctx, params)
}
