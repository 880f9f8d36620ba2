package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema validates inbound payloads against the JSON schema reflected from a Go type.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

func reflector() *invopop.Reflector {
	return &invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
}

// SchemaFor reflects v's type and compiles the result.
func SchemaFor(name string, v any) (*Schema, error) {
	raw, err := json.Marshal(reflector().Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("encoding schema %s: %w", name, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding schema %s: %w", name, err)
	}

	url := "mem://schemas/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("adding schema %s: %w", name, err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}

	return &Schema{name: name, compiled: compiled}, nil
}

// Validate checks payload. Failures wrap ErrConsumeMessage.
func (s *Schema) Validate(payload []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s payload is not json: %w", ErrConsumeMessage, s.name, err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s payload is invalid: %w", ErrConsumeMessage, s.name, err)
	}
	return nil
}
