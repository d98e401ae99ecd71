package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) (*ERPRepository, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// The in-memory database vanishes if the pool opens a second
	// connection, so pin it to one.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE vendors (
			vendor_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tax_id TEXT NOT NULL DEFAULT '',
			credit_score INTEGER NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT 'LOW'
		);
		CREATE TABLE purchase_orders (
			po_number TEXT PRIMARY KEY,
			vendor_id TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'APPROVED'
		);
		CREATE TABLE po_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			po_number TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			description TEXT NOT NULL,
			quantity REAL NOT NULL,
			unit_price REAL NOT NULL,
			amount REAL NOT NULL,
			UNIQUE (po_number, line_no)
		);
		CREATE TABLE goods_receipts (
			grn_number TEXT PRIMARY KEY,
			po_number TEXT NOT NULL
		);
		CREATE TABLE grn_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			grn_number TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			description TEXT NOT NULL,
			quantity REAL NOT NULL,
			unit_price REAL NOT NULL,
			amount REAL NOT NULL,
			UNIQUE (grn_number, line_no)
		);
		CREATE TABLE erp_postings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			erp_txn_id TEXT NOT NULL,
			amount REAL NOT NULL,
			entry_count INTEGER NOT NULL,
			posted_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	return NewERPRepository(db, zap.NewNop()), db
}

func seedReferenceData(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO vendors (vendor_id, name, tax_id, credit_score, risk_level)
		VALUES ('V-100', 'ACME CORP', 'TAX-ACME-001', 720, 'LOW');

		INSERT INTO purchase_orders (po_number, vendor_id, amount, status)
		VALUES ('PO-1001', 'V-100', 5000.00, 'APPROVED'),
		       ('PO-1002', 'V-100', 1250.50, 'PENDING');

		INSERT INTO po_lines (po_number, line_no, description, quantity, unit_price, amount)
		VALUES ('PO-1001', 2, 'Mounting brackets', 50, 10.00, 500.00),
		       ('PO-1001', 1, 'Industrial widgets', 90, 50.00, 4500.00);

		INSERT INTO goods_receipts (grn_number, po_number)
		VALUES ('GRN-5001', 'PO-1001');

		INSERT INTO grn_lines (grn_number, line_no, description, quantity, unit_price, amount)
		VALUES ('GRN-5001', 1, 'Industrial widgets', 80, 50.00, 4000.00);
	`)
	require.NoError(t, err)
}

func TestERPRepository_GetVendor(t *testing.T) {
	repo, db := newTestRepo(t)
	seedReferenceData(t, db)
	ctx := context.Background()

	vendor, err := repo.GetVendor(ctx, "V-100")
	require.NoError(t, err)
	require.NotNil(t, vendor)
	assert.Equal(t, "ACME CORP", vendor.Name)
	assert.Equal(t, 720, vendor.CreditScore)
	assert.Equal(t, "LOW", vendor.RiskLevel)

	// Unknown vendors are not an error; callers apply a default profile.
	vendor, err = repo.GetVendor(ctx, "V-999")
	require.NoError(t, err)
	assert.Nil(t, vendor)
}

func TestERPRepository_FetchPORecords(t *testing.T) {
	repo, db := newTestRepo(t)
	seedReferenceData(t, db)

	pos, err := repo.FetchPORecords(context.Background(), "V-100")
	require.NoError(t, err)
	require.Len(t, pos, 2)

	assert.Equal(t, "PO-1001", pos[0].PONumber)
	assert.Equal(t, 5000.00, pos[0].Amount)
	require.Len(t, pos[0].Lines, 2)
	// Lines come back in line_no order regardless of insert order.
	assert.Equal(t, "Industrial widgets", pos[0].Lines[0].Description)
	assert.Equal(t, "Mounting brackets", pos[0].Lines[1].Description)

	assert.Equal(t, "PO-1002", pos[1].PONumber)
	assert.Empty(t, pos[1].Lines)
}

func TestERPRepository_FetchPORecords_UnknownVendor(t *testing.T) {
	repo, db := newTestRepo(t)
	seedReferenceData(t, db)

	pos, err := repo.FetchPORecords(context.Background(), "V-999")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestERPRepository_FetchGRNRecords(t *testing.T) {
	repo, db := newTestRepo(t)
	seedReferenceData(t, db)
	ctx := context.Background()

	grns, err := repo.FetchGRNRecords(ctx, []string{"PO-1001", "PO-1002"})
	require.NoError(t, err)
	require.Len(t, grns, 1)
	assert.Equal(t, "GRN-5001", grns[0].GRNNumber)
	assert.Equal(t, "PO-1001", grns[0].PONumber)
	require.Len(t, grns[0].Lines, 1)
	assert.Equal(t, 80.0, grns[0].Lines[0].Quantity)

	grns, err = repo.FetchGRNRecords(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, grns)
}

func TestERPRepository_RecordPosting(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	txnID, already, err := repo.RecordPosting(ctx, "run-1", 5000.00, 2)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Contains(t, txnID, "TXN-")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM erp_postings").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestERPRepository_RecordPosting_RepeatReturnsOriginal(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	first, already, err := repo.RecordPosting(ctx, "run-1", 5000.00, 2)
	require.NoError(t, err)
	require.False(t, already)

	// A crash between posting and checkpointing replays the same run id.
	second, already, err := repo.RecordPosting(ctx, "run-1", 5000.00, 2)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM erp_postings").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestERPRepository_RecordPosting_DistinctRunsPostSeparately(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.RecordPosting(ctx, "run-1", 5000.00, 2)
	require.NoError(t, err)
	_, _, err = repo.RecordPosting(ctx, "run-2", 1250.50, 2)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM erp_postings").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestERPRepository_RecordPosting_ConcurrentCallersShareOneRow(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	const callers = 8
	txnIDs := make([]string, callers)
	created := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txnID, already, err := repo.RecordPosting(ctx, "run-1", 5000.00, 2)
			assert.NoError(t, err)
			txnIDs[i] = txnID
			created[i] = !already
		}(i)
	}
	wg.Wait()

	// Exactly one caller wins the insert; the rest read back its
	// confirmation, whether they lost the conflict or saw the row first.
	wins := 0
	for i := 0; i < callers; i++ {
		assert.Equal(t, txnIDs[0], txnIDs[i])
		if created[i] {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM erp_postings").Scan(&count))
	assert.Equal(t, 1, count)
}
