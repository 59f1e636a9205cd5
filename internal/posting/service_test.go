package posting

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/logging"
	"github.com/splitledger/splitledger/internal/money"
)

func newService() (*Service, ledger.Store) {
	store := ledger.NewMemory()
	return NewService(store, logging.Discard()), store
}

func TestPostBalancedTransaction(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	res, err := svc.Post(ctx, PostInput{
		LedgerID:    ledgerID,
		ReferenceID: "order-1",
		Type:        ledger.TransactionSale,
		Currency:    "USD",
		Entries: []ledger.EntryInput{
			{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: 2999},
			{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: 600},
			{AccountType: ledger.AccountCreatorBalance, EntityID: "c1", Type: ledger.Credit, Amount: 2399},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)

	cash, err := store.AccountBalance(ctx, ledgerID, ledger.AccountCash, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2999, cash)
}

func TestPostRejectsUnbalanced(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	_, err := svc.Post(ctx, PostInput{
		LedgerID:    ledgerID,
		ReferenceID: "order-1",
		Type:        ledger.TransactionSale,
		Currency:    "USD",
		Entries: []ledger.EntryInput{
			{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: 100},
			{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: 99},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrUnbalanced)

	_, err = store.FindByReference(ctx, ledgerID, "order-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPostValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	legs := []ledger.EntryInput{
		{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: 100},
		{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: 100},
	}

	_, err := svc.Post(ctx, PostInput{LedgerID: ledgerID, ReferenceID: "", Type: ledger.TransactionSale, Entries: legs})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Post(ctx, PostInput{
		LedgerID: ledgerID, ReferenceID: strings.Repeat("x", 256), Type: ledger.TransactionSale, Entries: legs,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Post(ctx, PostInput{
		LedgerID: ledgerID, ReferenceID: "r", Type: ledger.TransactionSale,
		Entries: legs[:1],
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Post(ctx, PostInput{
		LedgerID: ledgerID, ReferenceID: "r", Type: ledger.TransactionType("imaginary"), Entries: legs,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Post(ctx, PostInput{
		LedgerID: ledgerID, ReferenceID: "r", Type: ledger.TransactionSale,
		Entries: []ledger.EntryInput{
			{AccountType: ledger.AccountType("mystery"), Type: ledger.Debit, Amount: 100},
			{AccountType: ledger.AccountCash, Type: ledger.Credit, Amount: 100},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrUnknownAccountType)
}

func TestPostIdempotentRetry(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	in := PostInput{
		LedgerID:    ledgerID,
		ReferenceID: "webhook-42",
		Type:        ledger.TransactionSale,
		Currency:    "USD",
		Entries: []ledger.EntryInput{
			{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: 500},
			{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: 500},
		},
	}

	first, err := svc.Post(ctx, in)
	require.NoError(t, err)
	second, err := svc.Post(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestPostSale(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	res, err := svc.PostSale(ctx, SaleInput{
		LedgerID:       ledgerID,
		ReferenceID:    "sale-1",
		Currency:       "USD",
		CreatorID:      "creator-7",
		CreatorAmount:  2399,
		PlatformAmount: 600,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2999, res.Amount)

	tx, err := store.FindByReference(ctx, ledgerID, "sale-1")
	require.NoError(t, err)
	require.NotNil(t, tx.Metadata.Sale)
	assert.EqualValues(t, 2399, tx.Metadata.Sale.CreatorAmount)
	assert.EqualValues(t, 600, tx.Metadata.Sale.PlatformAmount)

	creator, err := store.AccountBalance(ctx, ledgerID, ledger.AccountCreatorBalance, "creator-7")
	require.NoError(t, err)
	assert.EqualValues(t, 2399, creator)
}

func TestPostSaleCreatorOnly(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	// A zero platform cut must post cleanly with only two legs.
	res, err := svc.PostSale(ctx, SaleInput{
		LedgerID:      ledgerID,
		ReferenceID:   "sale-free-tier",
		Currency:      "USD",
		CreatorID:     "creator-7",
		CreatorAmount: 1500,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1500, res.Amount)

	platform, err := store.AccountBalance(ctx, ledgerID, ledger.AccountPlatformRevenue, "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, platform)

	creator, err := store.AccountBalance(ctx, ledgerID, ledger.AccountCreatorBalance, "creator-7")
	require.NoError(t, err)
	assert.EqualValues(t, 1500, creator)
}

func TestPostRejectsZeroAmountLeg(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	ledgerID := uuid.New()

	_, err := svc.Post(ctx, PostInput{
		LedgerID:    ledgerID,
		ReferenceID: "order-zero-leg",
		Type:        ledger.TransactionSale,
		Currency:    "USD",
		Entries: []ledger.EntryInput{
			{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: 100},
			{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: 0},
			{AccountType: ledger.AccountCreatorBalance, EntityID: "c1", Type: ledger.Credit, Amount: 100},
		},
	})
	assert.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = store.FindByReference(ctx, ledgerID, "order-zero-leg")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
