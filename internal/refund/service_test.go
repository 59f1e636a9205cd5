package refund

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/logging"
	"github.com/splitledger/splitledger/internal/notification"
	"github.com/splitledger/splitledger/internal/posting"
)

type fakeProcessor struct {
	calls []ProcessorRefund
	fail  bool
}

func (p *fakeProcessor) Refund(_ context.Context, req ProcessorRefund) (string, error) {
	if p.fail {
		return "", errors.New("card network declined")
	}
	p.calls = append(p.calls, req)
	return "proc_" + uuid.NewString()[:8], nil
}

type captureNotifier struct {
	events []notification.Event
}

func (n *captureNotifier) NotifyBestEffort(_ context.Context, e notification.Event) {
	n.events = append(n.events, e)
}

type fixture struct {
	store     ledger.Store
	svc       *Service
	processor *fakeProcessor
	notifier  *captureNotifier
	ledgerID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemory()
	processor := &fakeProcessor{}
	notifier := &captureNotifier{}
	f := &fixture{
		store:     store,
		svc:       NewService(store, processor, notifier, logging.Discard()),
		processor: processor,
		notifier:  notifier,
		ledgerID:  uuid.New(),
	}

	poster := posting.NewService(store, logging.Discard())
	_, err := poster.PostSale(context.Background(), posting.SaleInput{
		LedgerID:       f.ledgerID,
		ReferenceID:    "sale-1",
		Currency:       "USD",
		CreatorID:      "creator-1",
		CreatorAmount:  2399,
		PlatformAmount: 600,
	})
	require.NoError(t, err)
	return f
}

func TestFullRefundFlipsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		From:                ledger.RefundBoth,
		Reason:              "buyer request",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2999, res.Amount)
	assert.EqualValues(t, 2399, res.FromCreator)
	assert.EqualValues(t, 600, res.FromPlatform)
	assert.True(t, res.IsFullRefund)

	original, err := f.store.FindByReference(ctx, f.ledgerID, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, original.Status)

	// Second attempt must report the conflict with the original's id.
	res2, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		From:                ledger.RefundBoth,
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyFullyRefunded)
	assert.Equal(t, original.ID, res2.OriginalTxID)
}

func TestPartialRefundsAreCumulative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              1000,
		From:                ledger.RefundBoth,
		Reason:              "first",
	})
	require.NoError(t, err)
	assert.False(t, first.IsFullRefund)
	assert.EqualValues(t, 1000, first.FromCreator+first.FromPlatform)

	_, err = f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              2500,
		From:                ledger.RefundBoth,
		Reason:              "too much",
	})
	assert.ErrorIs(t, err, ledger.ErrExceedsRefundable)

	second, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              1999,
		From:                ledger.RefundBoth,
		Reason:              "second",
	})
	require.NoError(t, err)
	assert.True(t, second.IsFullRefund)
}

func TestRefundRetriesCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              500,
		From:                ledger.RefundBoth,
		Reason:              "damaged goods",
	}
	first, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)

	// Identical intent, no caller key: the content hash collapses the retry.
	second, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	// A different partial refund posts separately.
	third, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              700,
		From:                ledger.RefundBoth,
		Reason:              "late delivery",
	})
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.TransactionID, third.TransactionID)
}

func TestRefundWithCallerIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              300,
		From:                ledger.RefundPlatformOnly,
		IdempotencyKey:      "ext-refund-77",
	}
	first, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)

	second, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	tx, err := f.store.FindByReference(ctx, f.ledgerID, "ext-refund-77")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionRefund, tx.Type)
}

func TestProcessorFailureAbortsLedgerWrite(t *testing.T) {
	f := newFixture(t)
	f.processor.fail = true
	ctx := context.Background()

	_, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              1000,
		From:                ledger.RefundBoth,
		ExecuteProcessor:    true,
	})
	assert.ErrorIs(t, err, ErrProcessorFailed)

	// No ledger refund may exist for a processor refund that never happened.
	total, err := f.store.RefundedTotal(ctx, f.ledgerID, mustFind(t, f, "sale-1").ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestProcessorRefundRecordsTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Refund(ctx, Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              1000,
		From:                ledger.RefundBoth,
		IdempotencyKey:      "proc-refund-1",
		ExecuteProcessor:    true,
	})
	require.NoError(t, err)
	require.Len(t, f.processor.calls, 1)
	assert.EqualValues(t, 1000, f.processor.calls[0].Amount)

	tx, err := f.store.FindByReference(ctx, f.ledgerID, "proc-refund-1")
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, tx.ID)
	require.NotNil(t, tx.Metadata.Refund)
	assert.NotEmpty(t, tx.Metadata.Refund.ProcessorTrace)
}

func TestProcessorNotRechargedOnRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := Input{
		LedgerID:            f.ledgerID,
		OriginalReferenceID: "sale-1",
		Amount:              500,
		From:                ledger.RefundBoth,
		IdempotencyKey:      "proc-retry-1",
		ExecuteProcessor:    true,
	}
	first, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)

	second, err := f.svc.Refund(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.EqualValues(t, first.FromCreator, second.FromCreator)
	assert.EqualValues(t, first.FromPlatform, second.FromPlatform)

	// The retry must settle from the ledger alone.
	require.Len(t, f.processor.calls, 1)
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refund(ctx, Input{OriginalReferenceID: "sale-1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Refund(ctx, Input{LedgerID: f.ledgerID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Refund(ctx, Input{
		LedgerID: f.ledgerID, OriginalReferenceID: "sale-1", From: ledger.RefundFrom("everyone"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Refund(ctx, Input{
		LedgerID: f.ledgerID, OriginalReferenceID: "missing",
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func mustFind(t *testing.T, f *fixture, ref string) ledger.Transaction {
	t.Helper()
	tx, err := f.store.FindByReference(context.Background(), f.ledgerID, ref)
	require.NoError(t, err)
	return tx
}
