package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

// VendorRepository looks up vendor master data.
type VendorRepository interface {
	GetVendor(ctx context.Context, vendorID string) (*models.VendorProfile, error)
}

// PORepository retrieves purchase orders and goods receipts.
type PORepository interface {
	FetchPORecords(ctx context.Context, vendorID string) ([]models.PORecord, error)
	FetchGRNRecords(ctx context.Context, poNumbers []string) ([]models.GRNRecord, error)
}

// PostingRepository records ERP postings idempotently by run id.
type PostingRepository interface {
	RecordPosting(ctx context.Context, runID string, amount float64, entryCount int) (txnID string, existed bool, err error)
}

// VendorEnricher implements the enrich_vendor tool: a deterministic
// lookup-or-default against the vendor master table. Unknown vendors
// get a neutral low-risk profile rather than an error.
type VendorEnricher struct {
	vendors VendorRepository
	logger  *zap.Logger
}

// NewVendorEnricher creates the enrichment tool handler.
func NewVendorEnricher(vendors VendorRepository, logger *zap.Logger) *VendorEnricher {
	return &VendorEnricher{vendors: vendors, logger: logger}
}

func (e *VendorEnricher) Name() string { return ToolEnrichVendor }

func (e *VendorEnricher) RequiredArgs() []string { return []string{"vendor_id"} }

func (e *VendorEnricher) Invoke(ctx context.Context, args Args) (Result, error) {
	vendorID := stringArg(args, "vendor_id")

	profile, err := e.vendors.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("vendor lookup failed: %w", err)
	}
	if profile == nil {
		// Lookup-or-default: enrichment never fails a run.
		profile = &models.VendorProfile{
			VendorID:    vendorID,
			Name:        stringArg(args, "vendor_name"),
			CreditScore: 850,
			RiskLevel:   "LOW",
		}
		e.logger.Debug("Vendor not in master data, using default profile",
			zap.String("vendor_id", vendorID))
	}

	return Result{"profile": profile}, nil
}

// POFetcher implements the fetch_po tool.
type POFetcher struct {
	pos    PORepository
	logger *zap.Logger
}

// NewPOFetcher creates the PO retrieval tool handler.
func NewPOFetcher(pos PORepository, logger *zap.Logger) *POFetcher {
	return &POFetcher{pos: pos, logger: logger}
}

func (f *POFetcher) Name() string { return ToolFetchPO }

func (f *POFetcher) RequiredArgs() []string { return []string{"vendor_id"} }

func (f *POFetcher) Invoke(ctx context.Context, args Args) (Result, error) {
	vendorID := stringArg(args, "vendor_id")

	pos, err := f.pos.FetchPORecords(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("purchase order retrieval failed: %w", err)
	}

	var grns []models.GRNRecord
	if len(pos) > 0 {
		poNumbers := make([]string, len(pos))
		for i, po := range pos {
			poNumbers[i] = po.PONumber
		}
		grns, err = f.pos.FetchGRNRecords(ctx, poNumbers)
		if err != nil {
			return nil, fmt.Errorf("goods receipt retrieval failed: %w", err)
		}
	}

	f.logger.Debug("Fetched reference records",
		zap.String("vendor_id", vendorID),
		zap.Int("po_count", len(pos)),
		zap.Int("grn_count", len(grns)))

	return Result{
		"found":       len(pos) > 0,
		"po_records":  pos,
		"grn_records": grns,
	}, nil
}

// ERPPoster implements the post_to_erp tool. Postings are idempotent:
// the run id is the idempotency key and a retried call returns the
// original confirmation.
type ERPPoster struct {
	postings PostingRepository
	logger   *zap.Logger
}

// NewERPPoster creates the posting tool handler.
func NewERPPoster(postings PostingRepository, logger *zap.Logger) *ERPPoster {
	return &ERPPoster{postings: postings, logger: logger}
}

func (p *ERPPoster) Name() string { return ToolPostToERP }

func (p *ERPPoster) RequiredArgs() []string { return []string{"run_id", "amount"} }

func (p *ERPPoster) Invoke(ctx context.Context, args Args) (Result, error) {
	runID := stringArg(args, "run_id")
	amount := floatArg(args, "amount")
	entryCount := int(floatArg(args, "entry_count"))

	txnID, existed, err := p.postings.RecordPosting(ctx, runID, amount, entryCount)
	if err != nil {
		return nil, fmt.Errorf("ERP posting failed: %w", err)
	}

	if existed {
		p.logger.Info("Posting already recorded, returning existing confirmation",
			zap.String("run_id", runID),
			zap.String("erp_txn_id", txnID))
	}

	return Result{
		"erp_txn_id":     txnID,
		"already_posted": existed,
	}, nil
}
