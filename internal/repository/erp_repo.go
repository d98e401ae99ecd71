package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// ERPRepository serves the simulated ERP reference data: vendor master
// records, purchase orders with their lines, goods receipts, and the
// posting journal keyed by run id.
type ERPRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewERPRepository creates a new ERP repository.
func NewERPRepository(db *sql.DB, logger *zap.Logger) *ERPRepository {
	return &ERPRepository{db: db, logger: logger}
}

// GetVendor looks up one vendor master record. Returns (nil, nil) when
// the vendor is unknown, so callers can apply lookup-or-default.
func (r *ERPRepository) GetVendor(ctx context.Context, vendorID string) (*models.VendorProfile, error) {
	query := `
		SELECT vendor_id, name, tax_id, credit_score, risk_level
		FROM vendors
		WHERE vendor_id = ?
	`

	var v models.VendorProfile
	err := r.db.QueryRowContext(ctx, query, vendorID).Scan(
		&v.VendorID, &v.Name, &v.TaxID, &v.CreditScore, &v.RiskLevel,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up vendor",
			zap.String("vendor_id", vendorID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to look up vendor %s: %w", vendorID, err)
	}
	return &v, nil
}

// FetchPORecords returns all purchase orders for a vendor, lines
// included.
func (r *ERPRepository) FetchPORecords(ctx context.Context, vendorID string) ([]models.PORecord, error) {
	query := `
		SELECT po_number, vendor_id, amount, status
		FROM purchase_orders
		WHERE vendor_id = ?
		ORDER BY po_number
	`

	rows, err := r.db.QueryContext(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase orders for %s: %w", vendorID, err)
	}
	defer rows.Close()

	var pos []models.PORecord
	for rows.Next() {
		var po models.PORecord
		if err := rows.Scan(&po.PONumber, &po.VendorID, &po.Amount, &po.Status); err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range pos {
		lines, err := r.fetchLines(ctx, "po_lines", "po_number", pos[i].PONumber)
		if err != nil {
			return nil, err
		}
		pos[i].Lines = lines
	}
	return pos, nil
}

// FetchGRNRecords returns the goods receipts linked to the given
// purchase orders.
func (r *ERPRepository) FetchGRNRecords(ctx context.Context, poNumbers []string) ([]models.GRNRecord, error) {
	if len(poNumbers) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(poNumbers)), ",")
	query := fmt.Sprintf(`
		SELECT grn_number, po_number
		FROM goods_receipts
		WHERE po_number IN (%s)
		ORDER BY grn_number
	`, placeholders)

	args := make([]any, len(poNumbers))
	for i, n := range poNumbers {
		args[i] = n
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch goods receipts: %w", err)
	}
	defer rows.Close()

	var grns []models.GRNRecord
	for rows.Next() {
		var grn models.GRNRecord
		if err := rows.Scan(&grn.GRNNumber, &grn.PONumber); err != nil {
			return nil, err
		}
		grns = append(grns, grn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range grns {
		lines, err := r.fetchLines(ctx, "grn_lines", "grn_number", grns[i].GRNNumber)
		if err != nil {
			return nil, err
		}
		grns[i].Lines = lines
	}
	return grns, nil
}

// fetchLines loads line items from one of the line tables.
func (r *ERPRepository) fetchLines(ctx context.Context, table, keyColumn, key string) ([]models.LineItem, error) {
	query := fmt.Sprintf(`
		SELECT description, quantity, unit_price, amount
		FROM %s
		WHERE %s = ?
		ORDER BY line_no
	`, table, keyColumn)

	rows, err := r.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines from %s: %w", table, err)
	}
	defer rows.Close()

	var lines []models.LineItem
	for rows.Next() {
		var l models.LineItem
		if err := rows.Scan(&l.Description, &l.Quantity, &l.UnitPrice, &l.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// RecordPosting writes one posting journal entry keyed by run id. A
// repeated call for the same run id returns the original confirmation
// without creating a second posting.
func (r *ERPRepository) RecordPosting(ctx context.Context, runID string, amount float64, entryCount int) (string, bool, error) {
	var existing string
	err := r.db.QueryRowContext(ctx,
		"SELECT erp_txn_id FROM erp_postings WHERE run_id = ?", runID,
	).Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("failed to check existing posting for run %s: %w", runID, err)
	}

	txnID := fmt.Sprintf("TXN-%d", time.Now().UnixNano())
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO erp_postings (run_id, erp_txn_id, amount, entry_count, posted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID, txnID, amount, entryCount, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to record posting",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", false, fmt.Errorf("failed to record posting for run %s: %w", runID, err)
	}

	// A concurrent insert may have won the conflict; read back the
	// journal row so the confirmation is always the recorded one.
	err = r.db.QueryRowContext(ctx,
		"SELECT erp_txn_id FROM erp_postings WHERE run_id = ?", runID,
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("failed to read back posting for run %s: %w", runID, err)
	}

	return existing, existing != txnID, nil
}
