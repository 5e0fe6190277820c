package jira

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed api.yaml
var apiSpec []byte

const bodyLocation = "body"

// operation is one REST endpoint exposed as an action.
type operation struct {
	Name        string
	Description string
	Method      string
	Path        string
	// ParamType is set when every argument lives in one location and the
	// action schema is that location's schema.
	ParamType string
	Schema    json.RawMessage
}

var loadOperations = sync.OnceValues(func() ([]operation, error) {
	return parseOperations(apiSpec)
})

type openAPISpec struct {
	Paths      map[string]map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]any `yaml:"schemas"`
	} `yaml:"components"`
}

func parseOperations(data []byte) ([]operation, error) {
	var spec openAPISpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse jira api spec: %w", err)
	}

	paths := make([]string, 0, len(spec.Paths))
	for p := range spec.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var ops []operation
	for _, path := range paths {
		methods := make([]string, 0, len(spec.Paths[path]))
		for m := range spec.Paths[path] {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, method := range methods {
			op, err := buildOperation(path, method, spec.Paths[path][method], spec.Components.Schemas)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func buildOperation(path, method string, methodSpec map[string]any, schemas map[string]any) (operation, error) {
	id, _ := methodSpec["operationId"].(string)
	desc, _ := methodSpec["description"].(string)
	schema, err := json.Marshal(buildArgsSchema(methodSpec, schemas))
	if err != nil {
		return operation{}, fmt.Errorf("schema of %s: %w", id, err)
	}
	return operation{
		Name:        "Jira-" + id,
		Description: "Jira tool that " + desc,
		Method:      strings.ToUpper(method),
		Path:        path,
		ParamType:   uniqueParamType(methodSpec),
		Schema:      schema,
	}, nil
}

func parameters(methodSpec map[string]any) []map[string]any {
	raw, _ := methodSpec["parameters"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, p := range raw {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// bodySchema returns the JSON request body schema. Other content types are
// not supported.
func bodySchema(methodSpec map[string]any) map[string]any {
	return dig(methodSpec, "requestBody", "content", "application/json", "schema")
}

func dig(m map[string]any, keys ...string) map[string]any {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func uniqueParamType(methodSpec map[string]any) string {
	location := ""
	for _, p := range parameters(methodSpec) {
		in, _ := p["in"].(string)
		if location != "" && location != in {
			return ""
		}
		location = in
	}
	hasBody := len(bodySchema(methodSpec)) > 0
	if location != "" && hasBody {
		return ""
	}
	if hasBody {
		return bodyLocation
	}
	return location
}

func emptyObject() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}}
}

func buildArgsSchema(methodSpec map[string]any, schemas map[string]any) map[string]any {
	ret := emptyObject()
	props := ret["properties"].(map[string]any)
	for _, p := range parameters(methodSpec) {
		in, _ := p["in"].(string)
		loc, ok := props[in].(map[string]any)
		if !ok {
			loc = emptyObject()
			props[in] = loc
		}
		name, _ := p["name"].(string)
		paramSchema, _ := p["schema"].(map[string]any)
		if paramSchema == nil {
			paramSchema = map[string]any{}
		}
		if desc, ok := p["description"].(string); ok && desc != "" {
			paramSchema["description"] = desc
		}
		loc["properties"].(map[string]any)[name] = paramSchema
		if required, _ := p["required"].(bool); required {
			loc["required"] = append(loc["required"].([]any), name)
		}
	}
	if body := bodySchema(methodSpec); len(body) > 0 {
		props[bodyLocation] = body
	}
	if len(props) == 1 {
		for _, only := range props {
			ret = only.(map[string]any)
		}
	}

	ret = deepCopy(ret).(map[string]any)
	refs := map[string]bool{}
	defs := map[string]any{}
	collectRefs(ret, schemas, refs, defs)
	if len(defs) > 0 {
		ret["$defs"] = defs
	}
	return ret
}

// collectRefs rewrites component references to local $defs and copies the
// referenced schemas, following cycles once.
func collectRefs(schema map[string]any, schemas map[string]any, refs map[string]bool, defs map[string]any) {
	if ref, ok := schema["$ref"].(string); ok {
		rewriteRef(schema, ref[strings.LastIndex(ref, "/")+1:], schemas, refs, defs)
	}
	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		subs, _ := schema[key].([]any)
		for _, sub := range subs {
			if m, ok := sub.(map[string]any); ok {
				collectRefs(m, schemas, refs, defs)
			}
		}
	}

	switch schema["type"] {
	case nil:
		// Rich text fields only carry a description naming the format.
		if desc, _ := schema["description"].(string); strings.Contains(desc, "Atlassian Document Format") {
			rewriteRef(schema, "doc_node", schemas, refs, defs)
		}
	case "array":
		if items, ok := schema["items"].(map[string]any); ok {
			collectRefs(items, schemas, refs, defs)
		}
	case "object":
		props, _ := schema["properties"].(map[string]any)
		for _, v := range props {
			if m, ok := v.(map[string]any); ok {
				collectRefs(m, schemas, refs, defs)
			}
		}
		if additional, _ := schema["additionalProperties"].(bool); additional {
			delete(schema, "additionalProperties")
		}
	}
}

func rewriteRef(schema map[string]any, name string, schemas map[string]any, refs map[string]bool, defs map[string]any) {
	schema["$ref"] = "#/$defs/" + name
	if refs[name] {
		return
	}
	refs[name] = true
	target, ok := schemas[name].(map[string]any)
	if !ok {
		return
	}
	copied := deepCopy(target).(map[string]any)
	defs[name] = copied
	collectRefs(copied, schemas, refs, defs)
}

func deepCopy(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
