package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

const voucherSheet = "Voucher"

// Exporter writes a completed run's ledger entries to an .xlsx voucher
// workbook. Export is best-effort: a failure is logged by the caller
// and never blocks completion.
type Exporter struct {
	outputDir string
	logger    *zap.Logger
}

// NewExporter creates a voucher exporter writing into outputDir.
func NewExporter(outputDir string, logger *zap.Logger) *Exporter {
	return &Exporter{outputDir: outputDir, logger: logger}
}

// Export writes the voucher workbook and returns its path.
func (e *Exporter) Export(run *models.InvoiceRun) (string, error) {
	if len(run.LedgerEntries) == 0 {
		return "", fmt.Errorf("run %s has no ledger entries", run.RunID)
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet, err := f.NewSheet(voucherSheet)
	if err != nil {
		return "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	f.DeleteSheet("Sheet1")

	// Header block
	setCells(f, map[string]any{
		"A1": "Accounting Voucher",
		"A2": "Run ID",
		"B2": run.RunID,
		"A3": "Vendor",
		"B3": vendorName(run),
		"A4": "Currency",
		"B4": currency(run),
		"A5": "ERP Transaction",
		"B5": run.ERPTxnID,
	})

	// Entry table
	setCells(f, map[string]any{
		"A7": "Type",
		"B7": "Account",
		"C7": "Amount",
		"D7": "Vendor",
	})
	for i, entry := range run.LedgerEntries {
		row := 8 + i
		setCells(f, map[string]any{
			fmt.Sprintf("A%d", row): entry.Type,
			fmt.Sprintf("B%d", row): entry.Account,
			fmt.Sprintf("C%d", row): entry.Amount,
			fmt.Sprintf("D%d", row): entry.Vendor,
		})
	}

	path := filepath.Join(e.outputDir, fmt.Sprintf("voucher_%s.xlsx", run.RunID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save voucher: %w", err)
	}

	e.logger.Info("Voucher exported",
		zap.String("run_id", run.RunID),
		zap.String("path", path))
	return path, nil
}

func setCells(f *excelize.File, cells map[string]any) {
	for cell, value := range cells {
		// SetCellValue only fails on invalid coordinates, which are
		// fixed at compile time here.
		_ = f.SetCellValue(voucherSheet, cell, value)
	}
}

func vendorName(run *models.InvoiceRun) string {
	if run.Payload == nil {
		return ""
	}
	if run.Payload.VendorName != "" {
		return run.Payload.VendorName
	}
	return run.Payload.VendorID
}

func currency(run *models.InvoiceRun) string {
	if run.Payload == nil {
		return ""
	}
	return run.Payload.Currency
}
