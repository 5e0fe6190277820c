package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaJSON = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "tero configuration"
	schema.Description = "Server, database, model, tool, OAuth and test suite settings for tero serve."
	return json.MarshalIndent(schema, "", "  ")
})

// JSONSchema returns the JSON Schema of tero.yaml, keyed by the yaml field
// names. `tero config schema` prints it for editors.
func JSONSchema() ([]byte, error) {
	return schemaJSON()
}
