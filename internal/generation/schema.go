package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/HendryAvila/specgate/internal/governance"
)

// AuthoritySchemaName identifies AuthoritySchema.
const AuthoritySchemaName = "compiled_authority"

// AuthoritySchema constrains compiler output.
const AuthoritySchema = `{
  "type": "object",
  "required": ["scope", "invariants", "eligible_items", "rejected_items", "open_gaps"],
  "properties": {
    "scope": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "invariants": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "value"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["FORBIDDEN_CAPABILITY", "REQUIRED_FIELD", "REQUIRED_CAPABILITY", "CONSTRAINT"]},
          "value": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "applies_to": {
            "type": "array",
            "items": {"enum": ["vision", "backlog_item", "roadmap", "story", "sprint_plan"]}
          }
        }
      }
    },
    "eligible_items": {"type": "array", "items": {"type": "string"}},
    "rejected_items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item", "reason"],
        "properties": {
          "item": {"type": "string"},
          "reason": {"type": "string"}
        }
      }
    },
    "open_gaps": {"type": "array", "items": {"type": "string"}}
  }
}`

// ArtifactSchemaName identifies ArtifactSchema.
const ArtifactSchemaName = "artifact"

// ArtifactSchema constrains generated artifacts. Completeness (non-empty
// title, acceptance criteria) is the validation gate's job, not the
// schema's.
const ArtifactSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": {"type": "string"},
    "body": {"type": "string"},
    "fields": {"type": "object", "additionalProperties": {"type": "string"}},
    "acceptance_criteria": {"type": "array", "items": {"type": "string"}},
    "topics": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// compileSchema compiles and caches a schema by name and text.
func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	key := name + "\x00" + schema
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[key]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://specgate.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	schemaCache[key] = compiled
	return compiled, nil
}

// CheckSchema validates raw JSON output against a schema. Malformed JSON
// and schema violations are both SchemaMismatch.
func CheckSchema(name, schema string, raw json.RawMessage) error {
	const op = "generation.check_schema"
	compiled, err := compileSchema(name, schema)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return governance.Wrap(governance.SchemaMismatch, op, fmt.Errorf("output is not JSON: %w", err))
	}
	if err := compiled.Validate(doc); err != nil {
		return governance.Wrap(governance.SchemaMismatch, op, err)
	}
	return nil
}
