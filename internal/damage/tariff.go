// Package damage prices the condition difference between a borrow and its return.
package damage

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"libracheck/internal/errs"
)

// LostLabel marks a copy as not returned; it is charged at the copy's unit price.
const LostLabel = "lost"

// DefaultPrice applies to labels missing from the tariff.
var DefaultPrice = decimal.RequireFromString("9.99")

// Tariff maps normalized damage labels to a price.
type Tariff struct {
	Prices  map[string]decimal.Decimal
	Default decimal.Decimal
}

// NewTariff builds a tariff with normalized keys. Negative prices are rejected.
func NewTariff(prices map[string]decimal.Decimal, def decimal.Decimal) (Tariff, error) {
	if def.IsNegative() {
		return Tariff{}, fmt.Errorf("default price %s: %w", def, errs.ErrInvalid)
	}
	t := Tariff{Prices: make(map[string]decimal.Decimal, len(prices)), Default: def}
	for label, price := range prices {
		key := Normalize(label)
		if key == "" {
			continue
		}
		if price.IsNegative() {
			return Tariff{}, fmt.Errorf("price for %q is %s: %w", label, price, errs.ErrInvalid)
		}
		t.Prices[key] = price
	}
	return t, nil
}

// Price returns the tariff price for a label, or the default price.
func (t Tariff) Price(label string) decimal.Decimal {
	if p, ok := t.Prices[Normalize(label)]; ok {
		return p
	}
	return t.Default
}

// DefaultTariff returns the built-in price table.
func DefaultTariff() Tariff {
	prices := map[string]string{
		"missing book cover":  "90.0",
		"coffee stain":        "20.0",
		"torn pages":          "50.0",
		"highlighted text":    "15.0",
		"water damage":        "15.0",
		"writing":             "10.0",
		"bent cover":          "25.0",
		"dog ear":             "30.0",
		"loose pages":         "40.0",
		"mold":                "80.0",
		"stains":              "20.0",
		"ripped cover":        "70.0",
		"pages missing":       "100.0",
		"broken spine":        "60.0",
		"damaged cover":       "50.0",
		"torn cover":          "70.0",
		"scratched cover":     "30.0",
		"bent pages":          "20.0",
		"folded pages":        "15.0",
		"underlined text":     "10.0",
		"notes in margins":    "25.0",
		"highlighting":        "15.0",
		"water stains":        "40.0",
		"damp pages":          "35.0",
		"mildew":              "75.0",
		"torn dust jacket":    "80.0",
		"missing dust jacket": "100.0",
		"damaged dust jacket": "60.0",
	}
	t := Tariff{Prices: make(map[string]decimal.Decimal, len(prices)), Default: DefaultPrice}
	for label, price := range prices {
		t.Prices[label] = decimal.RequireFromString(price)
	}
	return t
}

type tariffFile struct {
	Default *float64           `yaml:"default"`
	Prices  map[string]float64 `yaml:"prices"`
}

// LoadTariff reads a YAML tariff file of the form
//
//	default: 9.99
//	prices:
//	  torn pages: 50
//
// When the file omits the default, fallbackDefault is used.
func LoadTariff(path string, fallbackDefault decimal.Decimal) (Tariff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tariff{}, fmt.Errorf("reading tariff: %w", err)
	}

	var f tariffFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Tariff{}, fmt.Errorf("parsing tariff: %w", err)
	}

	def := fallbackDefault
	if f.Default != nil {
		def = decimal.NewFromFloat(*f.Default)
	}
	prices := make(map[string]decimal.Decimal, len(f.Prices))
	for label, price := range f.Prices {
		prices[label] = decimal.NewFromFloat(price)
	}
	return NewTariff(prices, def)
}
