package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON Schema every config file must satisfy
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "data_dir": { "type": "string" },
    "checkpoint": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "path": { "type": "string", "minLength": 1 },
        "busy_timeout_ms": { "type": "integer", "minimum": 0 }
      }
    },
    "workspace": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "root": { "type": "string" },
        "watch": { "type": "boolean" },
        "sync_interval": { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$|^0$" },
        "ignore": { "type": "array", "items": { "type": "string", "minLength": 1 } },
        "max_file_size": { "type": "integer", "minimum": 0 }
      }
    },
    "models": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "default": { "type": "string" },
        "aliases": { "type": "object", "additionalProperties": { "type": "string" } }
      }
    },
    "ai": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "profiles": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "provider"],
            "additionalProperties": false,
            "properties": {
              "id": { "type": "string", "minLength": 1 },
              "provider": { "type": "string", "enum": ["anthropic", "openai"] },
              "api_key": { "type": "string" },
              "priority": { "type": "integer" }
            }
          }
        },
        "env_files": { "type": "array", "items": { "type": "string" } }
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": { "type": "string", "enum": ["trace", "debug", "info", "warn", "error"] },
        "file": { "type": "string" },
        "pretty": { "type": "boolean" },
        "redaction": { "type": "boolean" }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateDocument checks raw config JSON against Schema.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}
