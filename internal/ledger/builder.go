// Package ledger builds the accounting entries produced at RECONCILE
// and exports them as voucher workbooks for the accounting archive.
package ledger

import "github.com/garyjia/ap-invoice-flow/internal/models"

// BuildEntries derives the paired accounting entries for a reconciled
// invoice amount: a debit against the general expense account and a
// matching vendor-tagged credit against accounts payable.
func BuildEntries(amount float64, vendor string) []models.LedgerEntry {
	return []models.LedgerEntry{
		{
			Type:    models.EntryDebit,
			Account: models.AccountExpenseGeneral,
			Amount:  amount,
		},
		{
			Type:    models.EntryCredit,
			Account: models.AccountAPTrade,
			Amount:  amount,
			Vendor:  vendor,
		},
	}
}
