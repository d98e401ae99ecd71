package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InvoicePayload is the normalized invoice data carried by a run. The
// submitted fields arrive at INTAKE; line items and the OCR-derived
// values are filled in during UNDERSTAND when absent.
type InvoicePayload struct {
	VendorID    string     `json:"vendor_id"`
	VendorName  string     `json:"vendor_name,omitempty"`
	LineItems   []LineItem `json:"line_items,omitempty"`
	TotalAmount float64    `json:"total_amount"`
	Currency    string     `json:"currency"`

	// DocumentRef points at the raw invoice document (file path or
	// logical reference). DocumentText carries inline raw text for
	// payloads submitted without a file.
	DocumentRef  string `json:"document_ref"`
	DocumentText string `json:"document_text,omitempty"`
}

// DecodeInvoicePayload parses a raw JSON invoice body.
func DecodeInvoicePayload(raw []byte) (*InvoicePayload, error) {
	var payload InvoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode invoice payload: %w", err)
	}
	return &payload, nil
}

// LineItem is a single invoice, PO or GRN line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// PORecord is a purchase order fetched during RETRIEVE. Immutable once
// set on a run.
type PORecord struct {
	PONumber string     `json:"po_number"`
	VendorID string     `json:"vendor_id"`
	Amount   float64    `json:"amount"`
	Status   string     `json:"status"`
	Lines    []LineItem `json:"lines,omitempty"`
}

// GRNRecord is a goods receipt note linked to a purchase order.
type GRNRecord struct {
	GRNNumber string     `json:"grn_number"`
	PONumber  string     `json:"po_number"`
	Lines     []LineItem `json:"lines,omitempty"`
}

// VendorProfile is the enrichment result produced during PREPARE.
type VendorProfile struct {
	VendorID    string `json:"vendor_id"`
	Name        string `json:"name"`
	TaxID       string `json:"tax_id"`
	CreditScore int    `json:"credit_score"`
	RiskLevel   string `json:"risk_level"` // LOW, MEDIUM, HIGH
}

// RiskFlags derives the risk flags the PREPARE stage attaches to a run.
func (p *VendorProfile) RiskFlags(minCreditScore int) []string {
	var flags []string
	if p.CreditScore < minCreditScore {
		flags = append(flags, FlagLowCreditScore)
	}
	if strings.EqualFold(p.RiskLevel, "HIGH") {
		flags = append(flags, FlagHighRiskCategory)
	}
	return flags
}
