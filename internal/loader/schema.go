package loader

import (
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/botflow/pkg/schema"
)

// botSchemaJSON is the JSON Schema for bot documents. Embedded as a constant
// to avoid filesystem dependencies.
const botSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://botflow.dev/schemas/bot.json",
  "$ref": "#/$defs/bot",
  "$defs": {
    "bot": {
      "type": "object",
      "required": ["name", "start", "tasks"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "start": { "type": "string", "minLength": 1 },
        "outputs": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "engines": {
          "type": "array",
          "items": { "type": "string", "enum": ["expr", "cel"] }
        },
        "plugins": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/bot" }
        },
        "tasks": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/task" }
        }
      },
      "additionalProperties": false
    },
    "task": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["display", "input", "branch", "plugin"] },
        "message": { "type": "string" },
        "options": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "dialog": { "type": "string" },
        "menu_selector": { "type": "string" },
        "menu_title": { "type": "string" },
        "media_url": { "type": "string" },
        "channel": { "type": "string" },
        "dest": { "type": "string" },
        "write_var": { "type": "string" },
        "validation": { "type": "string" },
        "on_success": { "type": "string" },
        "on_fail": { "type": "string" },
        "rules": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/rule" }
        },
        "plugin": { "type": "string" },
        "input_vars": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "output_vars": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "display" } } },
          "then": { "required": ["message", "dest"] }
        },
        {
          "if": { "properties": { "type": { "const": "input" } } },
          "then": { "required": ["message", "write_var", "on_success", "on_fail"] }
        },
        {
          "if": { "properties": { "type": { "const": "branch" } } },
          "then": { "required": ["rules"] }
        },
        {
          "if": { "properties": { "type": { "const": "plugin" } } },
          "then": { "required": ["plugin", "rules"] }
        }
      ]
    },
    "rule": {
      "type": "object",
      "required": ["dest"],
      "properties": {
        "dest": { "type": "string", "minLength": 1 },
        "guard": { "type": "string" },
        "variable": { "type": "string" },
        "expression": { "type": "string" },
        "engine": { "type": "string", "enum": ["expr", "cel"] },
        "code": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

var (
	botSchemaOnce sync.Once
	botSchema     *jsonschema.Schema
	botSchemaErr  error
)

// compiledSchema compiles the embedded bot schema exactly once.
func compiledSchema() (*jsonschema.Schema, error) {
	botSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(botSchemaJSON))
		if err != nil {
			botSchemaErr = fmt.Errorf("unmarshal bot schema: %w", err)
			return
		}
		if err := c.AddResource("https://botflow.dev/schemas/bot.json", doc); err != nil {
			botSchemaErr = fmt.Errorf("add bot schema resource: %w", err)
			return
		}
		botSchema, botSchemaErr = c.Compile("https://botflow.dev/schemas/bot.json")
	})
	return botSchema, botSchemaErr
}

// validateDocument checks a parsed document against the bot JSON Schema.
func validateDocument(generic map[string]any) error {
	compiled, err := compiledSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "bot schema is broken").WithCause(err)
	}

	raw, err := jsonDoc(generic)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize bot document").WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize bot document").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// every leaf violation listed in the details.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("bot document validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
