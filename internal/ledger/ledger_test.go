package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/splitledger/splitledger/internal/money"
)

func isErr(err, target error) bool { return errors.Is(err, target) }

func timeAgo(t *testing.T, hours int) time.Time {
	t.Helper()
	return time.Now().UTC().Add(time.Duration(hours) * time.Hour)
}

func TestBalancedEntries(t *testing.T) {
	amount, err := BalancedEntries([]EntryInput{
		{AccountType: AccountCash, Type: Debit, Amount: 2999},
		{AccountType: AccountPlatformRevenue, Type: Credit, Amount: 600},
		{AccountType: AccountCreatorBalance, Type: Credit, Amount: 2399},
	})
	if err != nil {
		t.Fatalf("expected balanced, got %v", err)
	}
	if amount != 2999 {
		t.Fatalf("expected amount 2999, got %d", amount)
	}

	if _, err := BalancedEntries([]EntryInput{
		{AccountType: AccountCash, Type: Debit, Amount: 100},
		{AccountType: AccountPlatformRevenue, Type: Credit, Amount: 99},
	}); !isErr(err, ErrUnbalanced) {
		t.Fatalf("expected ErrUnbalanced, got %v", err)
	}

	if _, err := BalancedEntries([]EntryInput{
		{AccountType: AccountCash, Type: Debit, Amount: -5},
		{AccountType: AccountPlatformRevenue, Type: Credit, Amount: -5},
	}); !isErr(err, ErrUnbalanced) {
		t.Fatalf("expected ErrUnbalanced for negative legs, got %v", err)
	}
}

func TestNormalSide(t *testing.T) {
	side, err := AccountCash.NormalSide()
	if err != nil || side != Debit {
		t.Fatalf("cash must be debit-normal: %v %v", side, err)
	}
	side, err = AccountCreatorBalance.NormalSide()
	if err != nil || side != Credit {
		t.Fatalf("creator balance must be credit-normal: %v %v", side, err)
	}
	if _, err := AccountType("mystery").NormalSide(); !isErr(err, ErrUnknownAccountType) {
		t.Fatalf("expected ErrUnknownAccountType, got %v", err)
	}
}

func TestSplitRefundProportional(t *testing.T) {
	// 80/20 sale, refund 50: breakdown must reconcile to 50 and track the
	// original ratio within one cent, residual to the platform.
	fromCreator, fromPlatform, err := SplitRefund(80, 20, 50, RefundBoth)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if fromCreator+fromPlatform != 50 {
		t.Fatalf("split must reconcile: creator=%d platform=%d", fromCreator, fromPlatform)
	}
	if fromCreator != 40 || fromPlatform != 10 {
		t.Fatalf("expected 40/10, got %d/%d", fromCreator, fromPlatform)
	}
}

func TestSplitRefundResidualToPlatform(t *testing.T) {
	// Odd amount over an even split leaves one residual cent with the platform.
	fromCreator, fromPlatform, err := SplitRefund(50, 50, 101, RefundBoth)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if fromCreator+fromPlatform != 101 {
		t.Fatalf("split must reconcile")
	}
	if fromPlatform != 51 || fromCreator != 50 {
		t.Fatalf("residual cent must land on the platform: %d/%d", fromCreator, fromPlatform)
	}
}

func TestSplitRefundSingleSideCaps(t *testing.T) {
	// platform_only capped at the platform's original 20; the rest spills
	// over to the creator.
	fromCreator, fromPlatform, err := SplitRefund(80, 20, 50, RefundPlatformOnly)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if fromPlatform != 20 || fromCreator != 30 {
		t.Fatalf("expected platform capped at 20, got %d/%d", fromCreator, fromPlatform)
	}

	fromCreator, fromPlatform, err = SplitRefund(80, 20, 50, RefundCreatorOnly)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if fromCreator != 50 || fromPlatform != 0 {
		t.Fatalf("expected creator 50, got %d/%d", fromCreator, fromPlatform)
	}
}

func TestSplitRefundRejectsBadInput(t *testing.T) {
	if _, _, err := SplitRefund(80, 20, -1, RefundBoth); !isErr(err, money.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, _, err := SplitRefund(80, 20, 10, RefundFrom("everyone")); err == nil {
		t.Fatalf("expected error for unknown refund_from")
	}
}
