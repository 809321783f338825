package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiled caches schemas by their marshaled form. The invoice schema is
// static per process, so every document after the first validates against
// the same compiled instance.
var compiled sync.Map // string -> *jsonschema.Schema

// ValidateJSONAgainstSchema checks data against the schema given as a
// generic map, the same shape the chat request embeds as its structured
// output constraint.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	key, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	schema, err := compileCached(key)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func compileCached(raw []byte) (*jsonschema.Schema, error) {
	if s, ok := compiled.Load(string(raw)); ok {
		return s.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled.Store(string(raw), schema)
	return schema, nil
}
