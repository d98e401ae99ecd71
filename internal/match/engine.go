// Package match implements the two-way match engine: a pure, deterministic
// comparison of invoice data against purchase-order and goods-receipt
// records, producing a score in [0, 1] and an itemized discrepancy list.
package match

import (
	"fmt"
	"math"
	"time"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// Weights are the relative weights of the score components. The total
// amount delta is weighted most heavily by default.
type Weights struct {
	TotalAmount float64
	LineCount   float64
	LineItems   float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{TotalAmount: 0.6, LineCount: 0.15, LineItems: 0.25}
}

// Engine computes two-way match scores. It holds only policy
// parameters and has no side effects.
type Engine struct {
	weights   Weights
	tolerance float64
}

// NewEngine creates a match engine. toleranceBand is the relative delta
// at which a component score decays to zero (0.05 means a 5% deviation
// scores 0).
func NewEngine(weights Weights, toleranceBand float64) *Engine {
	sum := weights.TotalAmount + weights.LineCount + weights.LineItems
	if sum <= 0 {
		weights = DefaultWeights()
		sum = 1.0
	}
	// Normalize so components always combine into [0, 1].
	weights.TotalAmount /= sum
	weights.LineCount /= sum
	weights.LineItems /= sum

	if toleranceBand <= 0 {
		toleranceBand = 0.05
	}

	return &Engine{weights: weights, tolerance: toleranceBand}
}

// Score compares the invoice against the fetched PO/GRN records. A
// missing PO is a maximal discrepancy (score 0). When several POs were
// fetched, the best-scoring one is used.
func (e *Engine) Score(invoice *models.InvoicePayload, pos []models.PORecord, grns []models.GRNRecord) *models.MatchResult {
	now := time.Now().UTC()

	if len(pos) == 0 {
		return &models.MatchResult{
			Score: 0.0,
			Discrepancies: []models.Discrepancy{{
				Field:    "po_number",
				Expected: "at least one matching purchase order",
				Actual:   "none",
				Delta:    1.0,
			}},
			ComputedAt: now,
		}
	}

	best := e.scoreAgainst(invoice, &pos[0], grns)
	for i := 1; i < len(pos); i++ {
		candidate := e.scoreAgainst(invoice, &pos[i], grns)
		if candidate.Score > best.Score {
			best = candidate
		}
	}
	best.ComputedAt = now
	return best
}

func (e *Engine) scoreAgainst(invoice *models.InvoicePayload, po *models.PORecord, grns []models.GRNRecord) *models.MatchResult {
	var discrepancies []models.Discrepancy

	// Component 1: total amount delta.
	amountComp := 0.0
	if po.Amount > 0 {
		rel := math.Abs(invoice.TotalAmount-po.Amount) / po.Amount
		amountComp = e.componentScore(rel)
		if rel > 0 {
			discrepancies = append(discrepancies, models.Discrepancy{
				Field:    "total_amount",
				Expected: formatAmount(po.Amount),
				Actual:   formatAmount(invoice.TotalAmount),
				Delta:    round4(rel),
			})
		}
	} else {
		discrepancies = append(discrepancies, models.Discrepancy{
			Field:    "total_amount",
			Expected: "positive purchase order amount",
			Actual:   formatAmount(invoice.TotalAmount),
			Delta:    1.0,
		})
	}

	// Quantities are validated against the goods receipt when one
	// exists for this PO, otherwise against the PO lines.
	expectedLines := po.Lines
	for _, grn := range grns {
		if grn.PONumber == po.PONumber && len(grn.Lines) > 0 {
			expectedLines = grn.Lines
			break
		}
	}

	// Component 2: line-item count delta.
	countComp := 1.0
	if len(invoice.LineItems) != len(expectedLines) {
		base := len(expectedLines)
		if len(invoice.LineItems) > base {
			base = len(invoice.LineItems)
		}
		rel := math.Abs(float64(len(invoice.LineItems)-len(expectedLines))) / float64(base)
		countComp = 1.0 - rel
		discrepancies = append(discrepancies, models.Discrepancy{
			Field:    "line_count",
			Expected: fmt.Sprintf("%d", len(expectedLines)),
			Actual:   fmt.Sprintf("%d", len(invoice.LineItems)),
			Delta:    round4(rel),
		})
	}

	// Component 3: per-line quantity and price deltas. When no lines
	// are comparable the total amount stands in for them.
	lineComp := amountComp
	pairs := len(invoice.LineItems)
	if len(expectedLines) < pairs {
		pairs = len(expectedLines)
	}
	if pairs > 0 {
		total := 0.0
		for i := 0; i < pairs; i++ {
			inv := invoice.LineItems[i]
			exp := expectedLines[i]
			total += e.compareLine(i, inv, exp, &discrepancies)
		}
		lineComp = total / float64(pairs)
	}

	score := e.weights.TotalAmount*amountComp +
		e.weights.LineCount*countComp +
		e.weights.LineItems*lineComp

	return &models.MatchResult{
		Score:         round4(score),
		PONumber:      po.PONumber,
		Discrepancies: discrepancies,
	}
}

// compareLine scores one invoice line against its expected counterpart,
// appending quantity and unit price discrepancies as found.
func (e *Engine) compareLine(idx int, inv, exp models.LineItem, discrepancies *[]models.Discrepancy) float64 {
	qtyComp := 1.0
	if exp.Quantity > 0 {
		rel := math.Abs(inv.Quantity-exp.Quantity) / exp.Quantity
		qtyComp = e.componentScore(rel)
		if rel > 0 {
			*discrepancies = append(*discrepancies, models.Discrepancy{
				Field:    fmt.Sprintf("line[%d].quantity", idx),
				Expected: fmt.Sprintf("%g", exp.Quantity),
				Actual:   fmt.Sprintf("%g", inv.Quantity),
				Delta:    round4(rel),
			})
		}
	}

	priceComp := 1.0
	if exp.UnitPrice > 0 {
		rel := math.Abs(inv.UnitPrice-exp.UnitPrice) / exp.UnitPrice
		priceComp = e.componentScore(rel)
		if rel > 0 {
			*discrepancies = append(*discrepancies, models.Discrepancy{
				Field:    fmt.Sprintf("line[%d].unit_price", idx),
				Expected: formatAmount(exp.UnitPrice),
				Actual:   formatAmount(inv.UnitPrice),
				Delta:    round4(rel),
			})
		}
	}

	return (qtyComp + priceComp) / 2
}

// componentScore maps a relative delta onto [0, 1]: an exact match is
// 1.0 and the score decays linearly to 0 at the tolerance band.
func (e *Engine) componentScore(relativeDelta float64) float64 {
	if relativeDelta <= 0 {
		return 1.0
	}
	score := 1.0 - relativeDelta/e.tolerance
	if score < 0 {
		return 0.0
	}
	return score
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
