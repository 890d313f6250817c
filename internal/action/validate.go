package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": false,
  "properties": {
    "risk_level": {"type": "string", "enum": ["low", "medium", "high"]},
    "max_position_size": {"type": "number", "exclusiveMinimum": 0},
    "stop_loss_percent": {"type": "number", "minimum": 0},
    "take_profit_percent": {"type": "number", "minimum": 0},
    "demo_mode": {"type": "boolean"},
    "auto_close_enabled": {"type": "boolean"}
  }
}`

const brokerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": false,
  "properties": {
    "broker_name": {"type": "string", "minLength": 1, "maxLength": 64},
    "api_key": {"type": "string", "minLength": 1, "maxLength": 256},
    "api_secret": {"type": "string", "minLength": 1, "maxLength": 256},
    "is_connected": {"type": "boolean"}
  }
}`

// Validator checks settings writes before they leave the process.
type Validator struct {
	config *jsonschema.Schema
	broker *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	cfg, err := compileSchema("config.json", configSchema)
	if err != nil {
		return nil, err
	}
	broker, err := compileSchema("broker.json", brokerSchema)
	if err != nil {
		return nil, err
	}
	return &Validator{config: cfg, broker: broker}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

func (v *Validator) ValidateConfig(payload any) error {
	return validate(v.config, payload)
}

func (v *Validator) ValidateBroker(payload any) error {
	return validate(v.broker, payload)
}

// validate round-trips payload through JSON so that structs, maps and raw
// bytes are all checked the same way.
func validate(schema *jsonschema.Schema, payload any) error {
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(describe(ve))
		}
		return err
	}
	return nil
}

// describe flattens the leaf causes into "field: reason" pairs.
func describe(ve *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "payload"
			}
			leaves = append(leaves, field+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(leaves)
	return strings.Join(leaves, "; ")
}
