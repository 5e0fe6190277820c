package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Base carries the identity and configured Env shared by every tool.
// Embedders implement Setup, Load and the remaining lifecycle methods.
type Base struct {
	id          string
	name        string
	description string
	schema      map[string]any
	env         Env
}

// NewBase returns a Base with the given identity and config schema.
func NewBase(id, name, description string, schema map[string]any) Base {
	return Base{id: id, name: name, description: description, schema: schema}
}

func (b *Base) ID() string                   { return b.id }
func (b *Base) Name() string                 { return b.name }
func (b *Base) Description() string          { return b.description }
func (b *Base) ConfigSchema() map[string]any { return b.schema }

// SetID replaces the tool id, used by wildcard prototypes once configured.
func (b *Base) SetID(id string) { b.id = id }

// Configure stores env.
func (b *Base) Configure(env Env) {
	if env.Config == nil {
		env.Config = map[string]any{}
	}
	b.env = env
}

// Env returns the configured environment.
func (b *Base) Env() Env { return b.env }

// Config returns the configured config map.
func (b *Base) Config() map[string]any { return b.env.Config }

// Logger returns the configured logger scoped to the tool.
func (b *Base) Logger() *slog.Logger {
	logger := b.env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("tool", b.id)
}

// ValidateConfig checks the config against the schema with file-upload
// properties removed.
func (b *Base) ValidateConfig() error {
	if len(b.schema) == 0 {
		return nil
	}
	return ValidateConfig(b.schema, b.env.Config)
}

// Teardown is a no-op.
func (b *Base) Teardown(ctx context.Context) error { return nil }

// Clone is a no-op.
func (b *Base) Clone(ctx context.Context, toAgentID string) error { return nil }

// StringSetting returns a string config value, or "" when absent.
func (b *Base) StringSetting(key string) string {
	return StringValue(b.env.Config, key)
}

// StringValue returns config[key] as a string, or "" when absent.
func StringValue(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

// StripFileProperties returns a copy of schema without properties whose
// items reference the File definition. Those are uploaded separately and
// never embedded in the config payload.
func StripFileProperties(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return out
	}

	fileProps := make(map[string]bool)
	kept := make(map[string]any, len(props))
	for name, prop := range props {
		if isFileProperty(prop) {
			fileProps[name] = true
			continue
		}
		kept[name] = prop
	}
	out["properties"] = kept

	required := []any{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok && fileProps[name] {
				continue
			}
			required = append(required, r)
		}
	case []string:
		for _, name := range req {
			if !fileProps[name] {
				required = append(required, name)
			}
		}
	}
	out["required"] = required
	return out
}

func isFileProperty(prop any) bool {
	m, ok := prop.(map[string]any)
	if !ok {
		return false
	}
	items, ok := m["items"].(map[string]any)
	if !ok {
		return false
	}
	ref, _ := items["$ref"].(string)
	return ref != "" && strings.HasSuffix(ref, "/File")
}

// ValidateConfig validates config against schema with file properties
// dropped.
func ValidateConfig(schema, config map[string]any) error {
	compiled, err := compileSchema(StripFileProperties(schema))
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return InvalidConfiguration("%v", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return InvalidConfiguration("%v", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return &InvalidConfigurationError{Detail: validationMessage(err), Cause: err}
	}
	return nil
}

func validationMessage(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	if verr.InstanceLocation != "" {
		return fmt.Sprintf("%s: %s", verr.InstanceLocation, verr.Message)
	}
	return verr.Message
}

var schemaCache sync.Map

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(data)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
