package labels

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchemaJSON is the shape a synthesized definition must have.
// Keyword count is capped after decoding, not here, so a fourth keyword
// from the model is trimmed rather than rejected.
const definitionSchemaJSON = `{
  "type": "object",
  "required": ["label", "keywords", "extraction_schema", "extract_rules"],
  "properties": {
    "label": {"type": "string", "minLength": 1},
    "keywords": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "extraction_schema": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "extract_rules": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// catalogSchemaJSON is looser: hand-seeded entries may omit the schema or rules.
// Keyword bounds are enforced per entry by Open so one bad entry doesn't
// reject the whole file.
const catalogSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["label", "keywords"],
    "properties": {
      "label": {"type": "string", "minLength": 1},
      "keywords": {"type": "array", "items": {"type": "string"}},
      "extraction_schema": {
        "type": ["object", "null"],
        "additionalProperties": {"type": "string"}
      },
      "extract_rules": {
        "type": ["object", "null"],
        "additionalProperties": {"type": "string"}
      }
    }
  }
}`

var (
	definitionSchema = jsonschema.MustCompileString("label_definition.json", definitionSchemaJSON)
	catalogSchema    = jsonschema.MustCompileString("label_catalog.json", catalogSchemaJSON)
)

// DefinitionSchema returns the JSON Schema for a single definition, suitable
// for embedding in a prompt or a structured-output request.
func DefinitionSchema() json.RawMessage {
	return json.RawMessage(definitionSchemaJSON)
}

// ValidateDefinitionJSON checks raw JSON against the definition schema.
func ValidateDefinitionJSON(raw []byte) error {
	return validateRaw(definitionSchema, raw)
}

// validateCatalogJSON checks a persisted catalog before it is decoded.
func validateCatalogJSON(raw []byte) error {
	return validateRaw(catalogSchema, raw)
}

func validateRaw(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}
