// Package split computes per-participant owed amounts for an account.
//
// Two policies are supported: equal division, where the creator counts as one
// of the N+1 equal parties, and custom division, where the creator owes the
// total minus everything explicitly entered. Amounts are float64; sums are
// reconciled within Tolerance to absorb floating-point noise.
package split

import "fmt"

// Tolerance is the accepted absolute error when reconciling share sums
// against an account total.
const Tolerance = 0.01

// EqualShare returns the per-person amount when total is divided equally
// among the selected contacts plus the creator.
func EqualShare(total float64, contacts int) (float64, error) {
	if total <= 0 {
		return 0, fmt.Errorf("total must be positive, got %.2f", total)
	}
	if contacts < 1 {
		return 0, fmt.Errorf("must select at least one contact")
	}
	return total / float64(contacts+1), nil
}

// EqualShares returns the full share list for an equal split: contacts+1
// entries, creator's share first. Every entry is the same per-person figure.
func EqualShares(total float64, contacts int) ([]float64, error) {
	per, err := EqualShare(total, contacts)
	if err != nil {
		return nil, err
	}
	shares := make([]float64, contacts+1)
	for i := range shares {
		shares[i] = per
	}
	return shares, nil
}

// CreatorShare returns the creator's owed amount under a custom split: the
// total minus the sum of the explicitly entered amounts. By construction
// entered + creator == total exactly.
func CreatorShare(total float64, entered []float64) float64 {
	sum := 0.0
	for _, a := range entered {
		sum += a
	}
	return total - sum
}

// ValidateCustomShares checks that custom amounts reconcile against the
// total. Each entered amount must be non-negative, the implied creator share
// must not be negative beyond Tolerance, and the shares must sum to the total
// within Tolerance.
func ValidateCustomShares(total float64, entered []float64) error {
	if total <= 0 {
		return fmt.Errorf("total must be positive, got %.2f", total)
	}
	sum := 0.0
	for i, a := range entered {
		if a < 0 {
			return fmt.Errorf("amount %d is negative (%.2f)", i+1, a)
		}
		sum += a
	}
	creator := total - sum
	if creator < -Tolerance {
		return fmt.Errorf("entered amounts (%.2f) exceed the total (%.2f)", sum, total)
	}
	if diff := sum + creator - total; diff > Tolerance || diff < -Tolerance {
		return fmt.Errorf("amounts do not reconcile: off by %.2f", diff)
	}
	return nil
}
