package damage

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Assessment is the priced difference between two condition snapshots.
type Assessment struct {
	NewDamage []string        `json:"new_damage"`
	Lost      bool            `json:"lost"`
	Amount    decimal.Decimal `json:"amount"`
}

// Normalize returns the canonical form of a condition label.
func Normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// NormalizeSet normalizes labels into a set, dropping empty ones.
func NormalizeSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if n := Normalize(l); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// NewlyObserved returns the normalized labels present at return but not at
// borrow, sorted.
func NewlyObserved(borrowTags, returnTags []string) []string {
	before := NormalizeSet(borrowTags)
	var out []string
	for label := range NormalizeSet(returnTags) {
		if _, seen := before[label]; !seen {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// Assess prices the newly observed damage. A newly observed "lost" label
// charges the unit price and nothing else.
func Assess(t Tariff, borrowTags, returnTags []string, unitPrice decimal.Decimal) Assessment {
	a := Assessment{NewDamage: NewlyObserved(borrowTags, returnTags), Amount: decimal.Zero}
	for _, label := range a.NewDamage {
		if label == LostLabel {
			a.Lost = true
			a.Amount = unitPrice
			if a.Amount.IsNegative() {
				a.Amount = decimal.Zero
			}
			return a
		}
	}
	for _, label := range a.NewDamage {
		a.Amount = a.Amount.Add(t.Price(label))
	}
	return a
}

// Fine is Assess reduced to the amount owed.
func Fine(t Tariff, borrowTags, returnTags []string, unitPrice decimal.Decimal) decimal.Decimal {
	return Assess(t, borrowTags, returnTags, unitPrice).Amount
}
