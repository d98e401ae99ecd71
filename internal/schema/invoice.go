// Package schema validates submitted invoice payloads against a fixed
// JSON Schema before any run is created.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

const invoicePayloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["vendor_id", "total_amount", "currency", "document_ref"],
	"properties": {
		"vendor_id": {
			"type": "string",
			"minLength": 1,
			"pattern": "^[A-Za-z0-9][A-Za-z0-9 ._-]{0,63}$"
		},
		"vendor_name": {"type": "string"},
		"total_amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
		"document_ref": {"type": "string", "minLength": 1},
		"document_text": {"type": "string"},
		"line_items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["description", "quantity", "unit_price"],
				"properties": {
					"description": {"type": "string", "minLength": 1},
					"quantity": {"type": "number", "exclusiveMinimum": 0},
					"unit_price": {"type": "number", "minimum": 0},
					"amount": {"type": "number", "minimum": 0}
				}
			}
		}
	}
}`

var invoiceSchema = jsonschema.MustCompileString("invoice_payload.json", invoicePayloadSchema)

// ValidatePayload checks raw submitted JSON against the invoice payload
// schema. Schema violations surface as ValidationError so no run is
// ever created for a malformed payload.
func ValidatePayload(raw []byte) error {
	var doc any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return &models.ValidationError{Field: "payload", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := invoiceSchema.Validate(doc); err != nil {
		return &models.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
