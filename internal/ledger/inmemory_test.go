package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

func saleTx(ledgerID uuid.UUID, ref string, total, creator, platform money.Cents) NewTransaction {
	return NewTransaction{
		LedgerID:    ledgerID,
		Type:        TransactionSale,
		ReferenceID: ref,
		Amount:      total,
		Currency:    "USD",
		Entries: []EntryInput{
			{AccountType: AccountCash, Type: Debit, Amount: total},
			{AccountType: AccountPlatformRevenue, Type: Credit, Amount: platform},
			{AccountType: AccountCreatorBalance, EntityID: "creator-1", Type: Credit, Amount: creator},
		},
		Metadata: Metadata{Sale: &SaleMetadata{
			CreatorID:      "creator-1",
			CreatorAmount:  creator,
			PlatformAmount: platform,
		}},
	}
}

func TestMemoryStore_PostAndDerivedBalances(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	out, err := s.CreateTransaction(ctx, saleTx(ledgerID, "sale-1", 2999, 2399, 600))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if out.Duplicate {
		t.Fatalf("unexpected duplicate on first post")
	}

	cash, err := s.AccountBalance(ctx, ledgerID, AccountCash, "")
	if err != nil {
		t.Fatalf("cash balance: %v", err)
	}
	if cash != 2999 {
		t.Fatalf("expected cash 2999, got %d", cash)
	}

	creator, _ := s.AccountBalance(ctx, ledgerID, AccountCreatorBalance, "creator-1")
	if creator != 2399 {
		t.Fatalf("expected creator balance 2399, got %d", creator)
	}

	platform, _ := s.AccountBalance(ctx, ledgerID, AccountPlatformRevenue, "")
	if platform != 600 {
		t.Fatalf("expected platform revenue 600, got %d", platform)
	}
}

func TestMemoryStore_RejectsUnbalancedEntries(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	nt := saleTx(ledgerID, "bad-1", 2999, 2399, 600)
	nt.Entries[1].Amount = 700 // credits now exceed debits

	if _, err := s.CreateTransaction(ctx, nt); err == nil {
		t.Fatalf("expected unbalanced error")
	}

	// Nothing may be written for a rejected posting.
	if _, err := s.FindByReference(ctx, ledgerID, "bad-1"); err != ErrNotFound {
		t.Fatalf("expected not found after rejected post, got %v", err)
	}
	cash, _ := s.AccountBalance(ctx, ledgerID, AccountCash, "")
	if cash != 0 {
		t.Fatalf("expected zero cash after rejected post, got %d", cash)
	}
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	first, err := s.CreateTransaction(ctx, saleTx(ledgerID, "dup", 1000, 800, 200))
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	second, err := s.CreateTransaction(ctx, saleTx(ledgerID, "dup", 1000, 800, 200))
	if err != nil {
		t.Fatalf("second post: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate outcome")
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("duplicate must return the original transaction id")
	}
}

func TestMemoryStore_ConcurrentDuplicatePosts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	const workers = 10
	results := make([]PostOutcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.CreateTransaction(ctx, saleTx(ledgerID, "race", 500, 400, 100))
			if err != nil {
				t.Errorf("post %d failed: %v", i, err)
				return
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if !r.Duplicate {
			winners++
		}
		if r.TransactionID != results[0].TransactionID {
			t.Fatalf("all callers must observe the same transaction id")
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	cash, _ := s.AccountBalance(ctx, ledgerID, AccountCash, "")
	if cash != 500 {
		t.Fatalf("expected cash 500 after concurrent duplicates, got %d", cash)
	}
}

func TestMemoryStore_PartialRefundsConserveOriginal(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	if _, err := s.CreateTransaction(ctx, saleTx(ledgerID, "sale-1", 10_000, 8_000, 2_000)); err != nil {
		t.Fatalf("post sale: %v", err)
	}

	first, err := s.CreateRefund(ctx, RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-1",
		Amount: 4_000, From: RefundBoth,
	})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if first.IsFullRefund {
		t.Fatalf("partial refund must not mark full")
	}
	if first.FromCreator+first.FromPlatform != 4_000 {
		t.Fatalf("breakdown must reconcile: %+v", first)
	}

	// A refund exceeding the 6_000 remaining must be rejected.
	if _, err := s.CreateRefund(ctx, RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-too-big",
		Amount: 7_000, From: RefundBoth,
	}); err == nil || !isErr(err, ErrExceedsRefundable) {
		t.Fatalf("expected ErrExceedsRefundable, got %v", err)
	}

	// Refund the remainder by omitting the amount.
	second, err := s.CreateRefund(ctx, RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-2",
		From: RefundBoth,
	})
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if second.Amount != 6_000 || !second.IsFullRefund {
		t.Fatalf("expected full remaining refund of 6000, got %+v", second)
	}

	original, err := s.FindByReference(ctx, ledgerID, "sale-1")
	if err != nil {
		t.Fatalf("find original: %v", err)
	}
	if original.Status != StatusReversed {
		t.Fatalf("expected original reversed, got %s", original.Status)
	}
	if original.ReversedBy == nil || *original.ReversedBy != second.TransactionID {
		t.Fatalf("expected reversed_by link to final refund")
	}

	// A third refund attempt must conflict.
	if _, err := s.CreateRefund(ctx, RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-3",
		From: RefundBoth,
	}); err == nil || !isErr(err, ErrAlreadyFullyRefunded) {
		t.Fatalf("expected ErrAlreadyFullyRefunded, got %v", err)
	}
}

func TestMemoryStore_FullRefundRestoresBalances(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	if _, err := s.CreateTransaction(ctx, saleTx(ledgerID, "sale-1", 2999, 2399, 600)); err != nil {
		t.Fatalf("post sale: %v", err)
	}
	out, err := s.CreateRefund(ctx, RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-1", From: RefundBoth,
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if out.FromCreator != 2399 || out.FromPlatform != 600 {
		t.Fatalf("unexpected breakdown: %+v", out)
	}

	for _, check := range []struct {
		typ    AccountType
		entity string
	}{
		{AccountCash, ""},
		{AccountPlatformRevenue, ""},
		{AccountCreatorBalance, "creator-1"},
	} {
		bal, _ := s.AccountBalance(ctx, ledgerID, check.typ, check.entity)
		if bal != 0 {
			t.Fatalf("expected %s balance 0 after full refund, got %d", check.typ, bal)
		}
	}
}

func TestMemoryStore_DuplicateRefundReference(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	if _, err := s.CreateTransaction(ctx, saleTx(ledgerID, "sale-1", 1000, 800, 200)); err != nil {
		t.Fatalf("post sale: %v", err)
	}

	req := RefundRequest{
		LedgerID: ledgerID, OriginalReferenceID: "sale-1", ReferenceID: "refund-1",
		Amount: 500, From: RefundBoth,
	}
	first, err := s.CreateRefund(ctx, req)
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	second, err := s.CreateRefund(ctx, req)
	if err != nil {
		t.Fatalf("retried refund: %v", err)
	}
	if !second.Duplicate || second.TransactionID != first.TransactionID {
		t.Fatalf("retry must collapse onto the original refund: %+v", second)
	}
	if second.FromCreator != first.FromCreator || second.FromPlatform != first.FromPlatform {
		t.Fatalf("retry must report the original breakdown")
	}
}

func TestMemoryStore_ConcurrentRefundsNeverOverdraw(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	if _, err := s.CreateTransaction(ctx, saleTx(ledgerID, "sale-1", 10_000, 8_000, 2_000)); err != nil {
		t.Fatalf("post sale: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted money.Cents
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.CreateRefund(ctx, RefundRequest{
				LedgerID:            ledgerID,
				OriginalReferenceID: "sale-1",
				ReferenceID:         fmt.Sprintf("refund-%d", i),
				Amount:              3_000,
				From:                RefundBoth,
			})
			if err != nil {
				return // losers are rejected, never over-granted
			}
			mu.Lock()
			granted += out.Amount
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if granted > 10_000 {
		t.Fatalf("refunds overdrew the original: granted %d", granted)
	}
}

func TestMemoryStore_PeriodExpenseTotal(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	ledgerID := uuid.New()

	expense := func(ref, category string, amount money.Cents) NewTransaction {
		return NewTransaction{
			LedgerID:    ledgerID,
			Type:        TransactionExpense,
			ReferenceID: ref,
			Amount:      amount,
			Currency:    "USD",
			Category:    category,
			Entries: []EntryInput{
				{AccountType: AccountExpense, Type: Debit, Amount: amount},
				{AccountType: AccountCash, Type: Credit, Amount: amount},
			},
		}
	}

	if _, err := s.CreateTransaction(ctx, expense("e1", "software", 5_000)); err != nil {
		t.Fatalf("post e1: %v", err)
	}
	if _, err := s.CreateTransaction(ctx, expense("e2", "travel", 3_000)); err != nil {
		t.Fatalf("post e2: %v", err)
	}

	from := timeAgo(t, -1)
	to := timeAgo(t, 1)

	total, err := s.PeriodExpenseTotal(ctx, ledgerID, "", from, to)
	if err != nil {
		t.Fatalf("period total: %v", err)
	}
	if total != 8_000 {
		t.Fatalf("expected 8000, got %d", total)
	}

	software, _ := s.PeriodExpenseTotal(ctx, ledgerID, "software", from, to)
	if software != 5_000 {
		t.Fatalf("expected 5000 for software, got %d", software)
	}

	other, _ := s.PeriodExpenseTotal(ctx, uuid.New(), "", from, to)
	if other != 0 {
		t.Fatalf("tenant isolation violated: got %d", other)
	}
}
