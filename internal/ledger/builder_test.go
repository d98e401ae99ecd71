package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/ap-invoice-flow/internal/models"
)

func TestBuildEntries(t *testing.T) {
	entries := BuildEntries(5500.00, "ACME CORP")

	require.Len(t, entries, 2)

	debit := entries[0]
	assert.Equal(t, models.EntryDebit, debit.Type)
	assert.Equal(t, models.AccountExpenseGeneral, debit.Account)
	assert.Equal(t, 5500.00, debit.Amount)
	assert.Empty(t, debit.Vendor)

	credit := entries[1]
	assert.Equal(t, models.EntryCredit, credit.Type)
	assert.Equal(t, models.AccountAPTrade, credit.Account)
	assert.Equal(t, 5500.00, credit.Amount)
	assert.Equal(t, "ACME CORP", credit.Vendor)

	// Entries always balance.
	assert.Equal(t, debit.Amount, credit.Amount)
}
