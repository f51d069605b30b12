package livechannel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// messageSchema validates every inbound frame before it reaches a handler.
// A frame that fails validation is counted and dropped; the server never
// gets to push malformed state into the trust machine.
const messageSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["trust_update", "security_alert", "behavioral_anomaly"]
    }
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "trust_update"}}},
      "then": {
        "required": ["trust_score"],
        "properties": {
          "trust_score": {"type": "number", "minimum": 0, "maximum": 1},
          "trust_level": {"type": "string"},
          "trust_components": {
            "type": "object",
            "additionalProperties": {"type": "number"}
          },
          "recommended_action": {"type": "string"}
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "security_alert"}}},
      "then": {
        "required": ["alert"],
        "properties": {
          "alert": {
            "type": "object",
            "required": ["severity", "message"],
            "properties": {
              "severity": {"enum": ["low", "medium", "high", "critical"]},
              "message": {"type": "string"},
              "action": {"type": "string"}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "behavioral_anomaly"}}},
      "then": {
        "required": ["anomaly"],
        "properties": {
          "anomaly": {
            "type": "object",
            "required": ["modality", "severity"],
            "properties": {
              "modality": {"enum": ["keystroke", "mouse"]},
              "severity": {"type": "number", "minimum": 0, "maximum": 1},
              "details": {"type": "string"}
            }
          }
        }
      }
    }
  ]
}`

var messageSchema = jsonschema.MustCompileString("live-message.json", messageSchemaJSON)

// validateFrame checks one raw frame against the message schema.
func validateFrame(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	if err := messageSchema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
