package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

// SeedCash is a test helper that funds a ledger's cash account through a
// regular adjustment posting, so derived balances stay consistent.
func SeedCash(s Store, ledgerID uuid.UUID, referenceID string, amount money.Cents) error {
	_, err := s.CreateTransaction(context.Background(), NewTransaction{
		LedgerID:    ledgerID,
		Type:        TransactionAdjustment,
		ReferenceID: referenceID,
		Amount:      amount,
		Currency:    "USD",
		Entries: []EntryInput{
			{AccountType: AccountCash, Type: Debit, Amount: amount},
			{AccountType: AccountPlatformRevenue, Type: Credit, Amount: amount},
		},
	})
	return err
}
