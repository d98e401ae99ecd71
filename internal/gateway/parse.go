package gateway

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// InvoiceParser implements the parse_invoice tool with a deterministic
// line-scanning heuristic: the last numeric token on an amount/total
// line is the invoice total, and a "VENDOR:" line names the vendor.
// An LLM-backed parser can be registered instead (see LLMParser).
type InvoiceParser struct {
	logger *zap.Logger
}

// NewInvoiceParser creates the heuristic parser handler.
func NewInvoiceParser(logger *zap.Logger) *InvoiceParser {
	return &InvoiceParser{logger: logger}
}

func (p *InvoiceParser) Name() string { return ToolParseInvoice }

func (p *InvoiceParser) RequiredArgs() []string { return []string{"text"} }

// Invoke parses raw invoice text into structured fields.
func (p *InvoiceParser) Invoke(ctx context.Context, args Args) (Result, error) {
	text := stringArg(args, "text")
	parsed := ParseInvoiceText(text)

	p.logger.Debug("Parsed invoice text",
		zap.String("vendor", parsed.VendorName),
		zap.Float64("amount", parsed.TotalAmount),
		zap.Int("line_items", len(parsed.LineItems)))

	return Result{
		"vendor_name":  parsed.VendorName,
		"total_amount": parsed.TotalAmount,
		"line_items":   parsed.LineItems,
	}, nil
}

// ParsedInvoice is the structured output of invoice text parsing.
type ParsedInvoice struct {
	VendorName  string
	TotalAmount float64
	LineItems   []models.LineItem
}

// ParseInvoiceText extracts vendor, total and line items from raw
// invoice text. Deterministic and total: unknown input yields zero
// values rather than errors.
func ParseInvoiceText(text string) *ParsedInvoice {
	parsed := &ParsedInvoice{}

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)

		if strings.Contains(lower, "amount") || strings.Contains(lower, "total") {
			if amount, ok := lastNumericToken(line); ok {
				parsed.TotalAmount = amount
			}
		}

		if strings.Contains(lower, "vendor") && strings.Contains(line, ":") {
			parts := strings.SplitN(line, ":", 2)
			parsed.VendorName = strings.ToUpper(strings.TrimSpace(parts[1]))
		}

		// Line item rows: "ITEM <description> x<qty> @ <price>"
		if item, ok := parseLineItem(line); ok {
			parsed.LineItems = append(parsed.LineItems, item)
		}
	}

	return parsed
}

// lastNumericToken returns the last token on the line parseable as a
// currency amount.
func lastNumericToken(line string) (float64, bool) {
	cleaned := strings.ReplaceAll(line, "$", "")
	tokens := strings.Fields(cleaned)
	for i := len(tokens) - 1; i >= 0; i-- {
		token := strings.ReplaceAll(tokens[i], ",", "")
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// parseLineItem recognizes rows of the form
// "ITEM Widget Pro x2 @ 1250.00".
func parseLineItem(line string) (models.LineItem, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "ITEM ") {
		return models.LineItem{}, false
	}

	rest := strings.TrimSpace(trimmed[5:])
	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return models.LineItem{}, false
	}

	price, ok := lastNumericToken(rest[atIdx+1:])
	if !ok {
		return models.LineItem{}, false
	}

	head := strings.TrimSpace(rest[:atIdx])
	qty := 1.0
	if xIdx := strings.LastIndex(head, "x"); xIdx > 0 {
		if q, err := strconv.ParseFloat(strings.TrimSpace(head[xIdx+1:]), 64); err == nil {
			qty = q
			head = strings.TrimSpace(head[:xIdx])
		}
	}

	return models.LineItem{
		Description: head,
		Quantity:    qty,
		UnitPrice:   price,
		Amount:      qty * price,
	}, true
}
