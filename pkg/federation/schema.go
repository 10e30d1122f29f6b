package federation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const dnaObjectSchemaURL = "https://digitaldna.local/schemas/dna_object.json"

// dnaObjectSchema is the format check applied to DNA objects in verification
// requests: presence of the identity fields only.
const dnaObjectSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["dna_hash", "entity_id"]
}`

func compileDNAObjectSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(dnaObjectSchemaURL, strings.NewReader(dnaObjectSchema)); err != nil {
		return nil, fmt.Errorf("federation: add schema: %w", err)
	}
	return c.Compile(dnaObjectSchemaURL)
}

// checkFormat validates obj against the DNA object schema. The value is
// round-tripped through JSON first since the validator only understands
// decoded JSON types.
func checkFormat(schema *jsonschema.Schema, obj any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("federation: encode dna object: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("federation: decode dna object: %w", err)
	}
	return schema.Validate(doc)
}
