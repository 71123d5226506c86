package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a JSON schema for T. Used to embed each agent's
// output contract into its prompt template. Definitions stay referenced:
// inlining would recurse forever on self-referential types like Section.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
	}
	var v T
	return reflector.Reflect(v)
}

// SchemaJSON renders T's schema as indented JSON for prompt embedding.
func SchemaJSON[T any]() string {
	schema := GenerateSchema[T]()
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// Reflection of our own output types cannot produce unmarshalable
		// schemas; a failure here is a programming error.
		panic(err)
	}
	return string(raw)
}
