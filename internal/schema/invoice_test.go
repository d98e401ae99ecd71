package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "minimal valid payload",
			raw:  `{"vendor_id":"V-100","total_amount":5000,"currency":"USD","document_ref":"inv-001.pdf"}`,
		},
		{
			name: "full payload with line items",
			raw: `{
				"vendor_id": "V-100",
				"vendor_name": "ACME CORP",
				"total_amount": 5000.00,
				"currency": "USD",
				"document_ref": "inv-001.pdf",
				"document_text": "Total amount: 5000.00",
				"line_items": [
					{"description": "Industrial widgets", "quantity": 100, "unit_price": 40.00, "amount": 4000.00}
				]
			}`,
		},
		{
			name:    "not json",
			raw:     `{"vendor_id": `,
			wantErr: true,
		},
		{
			name:    "missing vendor_id",
			raw:     `{"total_amount":5000,"currency":"USD","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "zero amount",
			raw:     `{"vendor_id":"V-100","total_amount":0,"currency":"USD","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "negative amount",
			raw:     `{"vendor_id":"V-100","total_amount":-5,"currency":"USD","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "amount as string",
			raw:     `{"vendor_id":"V-100","total_amount":"5000","currency":"USD","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "lowercase currency",
			raw:     `{"vendor_id":"V-100","total_amount":5000,"currency":"usd","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "vendor id with traversal characters",
			raw:     `{"vendor_id":"../etc","total_amount":5000,"currency":"USD","document_ref":"inv-001.pdf"}`,
			wantErr: true,
		},
		{
			name:    "empty document_ref",
			raw:     `{"vendor_id":"V-100","total_amount":5000,"currency":"USD","document_ref":""}`,
			wantErr: true,
		},
		{
			name: "line item without description",
			raw: `{"vendor_id":"V-100","total_amount":5000,"currency":"USD","document_ref":"inv-001.pdf",
				"line_items":[{"quantity":1,"unit_price":10}]}`,
			wantErr: true,
		},
		{
			name: "line item with zero quantity",
			raw: `{"vendor_id":"V-100","total_amount":5000,"currency":"USD","document_ref":"inv-001.pdf",
				"line_items":[{"description":"x","quantity":0,"unit_price":10}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload([]byte(tt.raw))
			if tt.wantErr {
				var validationErr *models.ValidationError
				require.ErrorAs(t, err, &validationErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
