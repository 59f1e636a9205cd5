package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount indicates a value that cannot be represented as integer cents.
var ErrInvalidAmount = errors.New("invalid amount")

// Cents is a monetary amount in integer minor units. All authoritative
// arithmetic happens on this type; decimals exist only at the display boundary.
type Cents int64

// FromMajor converts a decimal major-unit string (e.g. "29.99") into cents.
// Values with more than two fractional digits are rejected rather than rounded,
// since silent rounding of caller input hides reconciliation bugs.
func FromMajor(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	scaled := d.Mul(decimal.NewFromInt(100))
	if !scaled.Equal(scaled.Round(0)) {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, s)
	}
	return Cents(scaled.IntPart()), nil
}

// FromMajorFloat converts a float major-unit value into cents. It rejects
// non-finite inputs and values that do not land on an exact cent.
func FromMajorFloat(v float64) (Cents, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrInvalidAmount)
	}
	scaled := v * 100
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-6 {
		return 0, fmt.Errorf("%w: %v has sub-cent precision", ErrInvalidAmount, v)
	}
	return Cents(int64(rounded)), nil
}

// ToMajor renders cents as a major-unit decimal string with two places.
func (c Cents) ToMajor() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// CheckNonNegative returns ErrInvalidAmount when the amount is below zero.
func (c Cents) CheckNonNegative() error {
	if c < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidAmount, c)
	}
	return nil
}

// CheckPositive returns ErrInvalidAmount unless the amount is strictly positive.
func (c Cents) CheckPositive() error {
	if c <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, c)
	}
	return nil
}

// SplitProportional divides total across the given shares in proportion to
// their weights. Each non-first part is the floor of its proportional share,
// so the non-negative rounding residual always accrues to the first share
// and the parts sum exactly to total. The first share is the platform by
// convention.
func SplitProportional(total Cents, shares ...Cents) ([]Cents, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidAmount, total)
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares given", ErrInvalidAmount)
	}

	var weightSum int64
	for _, s := range shares {
		if s < 0 {
			return nil, fmt.Errorf("%w: negative share %d", ErrInvalidAmount, s)
		}
		weightSum += int64(s)
	}
	if weightSum == 0 {
		// Nothing to apportion against; entire total goes to the first share.
		parts := make([]Cents, len(shares))
		parts[0] = total
		return parts, nil
	}

	parts := make([]Cents, len(shares))
	var assigned Cents
	for i := 1; i < len(shares); i++ {
		part := Cents(int64(total) * int64(shares[i]) / weightSum)
		parts[i] = part
		assigned += part
	}
	parts[0] = total - assigned
	return parts, nil
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}
