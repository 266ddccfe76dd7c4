package principal

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	replySchemaURL = "https://arch-studio.dev/schemas/principal-reply.json"
	patchSchemaURL = "https://arch-studio.dev/schemas/patch.json"
)

// replySchemaJSON checks the envelope only; proposed_patch is checked on its own so a
// malformed patch costs the patch, not the whole reply.
const replySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://arch-studio.dev/schemas/principal-reply.json",
  "type": "object",
  "properties": {
    "summary": { "type": "string" },
    "bullet_points": { "type": "array", "items": { "type": "string" } },
    "next_action_hint": { "type": "string" },
    "proposed_patch": {}
  }
}`

const patchSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://arch-studio.dev/schemas/patch.json",
  "type": "object",
  "properties": {
    "adds": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "id": { "type": "string" },
          "type": { "type": "string" },
          "text": { "type": "string" },
          "layer": { "type": "string" },
          "connectsTo": { "type": "array", "items": { "type": "string" } },
          "x": { "type": "number" },
          "y": { "type": "number" },
          "width": { "type": "number" },
          "height": { "type": "number" }
        }
      }
    },
    "updates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string" },
          "type": { "type": "string" },
          "text": { "type": "string" },
          "x": { "type": "number" },
          "y": { "type": "number" },
          "width": { "type": "number" },
          "height": { "type": "number" },
          "strokeColor": { "type": "string" },
          "backgroundColor": { "type": "string" }
        }
      }
    },
    "deletes": { "type": "array", "items": { "type": "string" } },
    "label": { "type": "string" }
  }
}`

type schemas struct {
	reply *jsonschema.Schema
	patch *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	for url, src := range map[string]string{replySchemaURL: replySchemaJSON, patchSchemaURL: patchSchemaJSON} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
	}
	reply, err := c.Compile(replySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile reply schema: %w", err)
	}
	patch, err := c.Compile(patchSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile patch schema: %w", err)
	}
	return &schemas{reply: reply, patch: patch}, nil
}
