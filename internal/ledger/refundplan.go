package ledger

import (
	"fmt"

	"github.com/splitledger/splitledger/internal/money"
)

// refundPlan is the fully resolved posting for one refund, computed inside
// the store's atomic unit so the remaining-refundable check cannot race a
// concurrent refund's commit.
type refundPlan struct {
	tx           NewTransaction
	fromCreator  money.Cents
	fromPlatform money.Cents
	fullRefund   bool
}

// planRefund validates the request against the original transaction and the
// cumulative amount already refunded, then lays out the reversing entries.
func planRefund(original Transaction, alreadyRefunded money.Cents, req RefundRequest) (refundPlan, error) {
	remaining := original.Amount - alreadyRefunded
	if original.Status == StatusReversed || remaining <= 0 {
		return refundPlan{}, fmt.Errorf("%w: transaction %s", ErrAlreadyFullyRefunded, original.ID)
	}

	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount < 0 {
		return refundPlan{}, fmt.Errorf("%w: negative refund amount %d", money.ErrInvalidAmount, amount)
	}
	if amount > remaining {
		return refundPlan{}, fmt.Errorf("%w: requested %d, remaining %d", ErrExceedsRefundable, amount, remaining)
	}

	creatorShare := money.Cents(0)
	platformShare := original.Amount
	creatorID := ""
	if sale := original.Metadata.Sale; sale != nil {
		creatorShare = sale.CreatorAmount
		platformShare = sale.PlatformAmount
		creatorID = sale.CreatorID
	}

	fromCreator, fromPlatform, err := SplitRefund(creatorShare, platformShare, amount, req.From)
	if err != nil {
		return refundPlan{}, err
	}

	var entries []EntryInput
	if fromPlatform > 0 {
		entries = append(entries, EntryInput{AccountType: AccountPlatformRevenue, Type: Debit, Amount: fromPlatform})
	}
	if fromCreator > 0 {
		entries = append(entries, EntryInput{AccountType: AccountCreatorBalance, EntityID: creatorID, Type: Debit, Amount: fromCreator})
	}
	entries = append(entries, EntryInput{AccountType: AccountCash, Type: Credit, Amount: amount})

	return refundPlan{
		tx: NewTransaction{
			LedgerID:    req.LedgerID,
			Type:        TransactionRefund,
			ReferenceID: req.ReferenceID,
			Amount:      amount,
			Currency:    original.Currency,
			Entries:     entries,
			Metadata: Metadata{Refund: &RefundMetadata{
				Reason:         req.Reason,
				RefundFrom:     req.From,
				FromCreator:    fromCreator,
				FromPlatform:   fromPlatform,
				OriginalTxID:   original.ID,
				ProcessorTrace: req.ProcessorTrace,
			}},
		},
		fromCreator:  fromCreator,
		fromPlatform: fromPlatform,
		fullRefund:   alreadyRefunded+amount >= original.Amount,
	}, nil
}
