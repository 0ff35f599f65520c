package orders

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pricing holds the amounts added on top of the item subtotal.
type Pricing struct {
	TaxRateBasisPoints int64
	ShippingCost       int64
}

type Totals struct {
	LineTotals   []int64
	Subtotal     int64
	Tax          int64
	ShippingCost int64
	Total        int64
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Price sums the lines and applies tax, rounded half up to the minor unit.
// Amounts that do not fit in an int64 are a validation error.
func (p Pricing) Price(items []ItemInput) (Totals, error) {
	out := Totals{LineTotals: make([]int64, len(items)), ShippingCost: p.ShippingCost}
	subtotal := decimal.Zero
	for i, it := range items {
		line := decimal.NewFromInt(it.Quantity).Mul(decimal.NewFromInt(it.UnitPrice))
		if line.GreaterThan(maxAmount) {
			return Totals{}, fmt.Errorf("line %d: %w", i, ErrAmountOutOfRange)
		}
		out.LineTotals[i] = line.IntPart()
		subtotal = subtotal.Add(line)
	}
	tax := subtotal.
		Mul(decimal.NewFromInt(p.TaxRateBasisPoints)).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	total := subtotal.Add(tax).Add(decimal.NewFromInt(p.ShippingCost))
	if total.GreaterThan(maxAmount) || total.IsNegative() {
		return Totals{}, fmt.Errorf("order total %s: %w", total, ErrAmountOutOfRange)
	}
	out.Subtotal = subtotal.IntPart()
	out.Tax = tax.IntPart()
	out.Total = total.IntPart()
	return out, nil
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXXXX.
func newOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}
