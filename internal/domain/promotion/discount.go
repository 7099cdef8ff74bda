package promotion

import (
	"slices"

	"github.com/shopspring/decimal"
)

var zero = decimal.Zero

// CalculateDiscountAmount computes the discount p grants on the given lines
// of ec. When itemIDs is nil every line within the promotion's target scope
// is used; otherwise only the listed lines that are also in scope.
//
// The result is within [0, applicable subtotal], respects MaxDiscountAmount,
// and is rounded half-up to cents once at the end.
func CalculateDiscountAmount(p *Promotion, ec EligibilityContext, itemIDs []string) decimal.Decimal {
	items := selectItems(p, ec.Items, itemIDs)
	subtotal := calcSubtotal(items)
	if !subtotal.IsPositive() {
		return zero
	}

	var d decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(p.DiscountValue).Div(hundred)
	case DiscountFixedAmount:
		d = p.DiscountValue
	case DiscountTiered:
		pct, ok := tierPercent(p.Tiers, ec.Amount())
		if !ok {
			return zero
		}
		d = subtotal.Mul(pct).Div(hundred)
	case DiscountBuyXGetY:
		d = buyXGetY(p, items)
	default:
		return zero
	}

	if p.MaxDiscountAmount.Valid {
		d = decimal.Min(d, p.MaxDiscountAmount.Decimal)
	}
	d = floorAtZero(decimal.Min(d, subtotal)).Round(2)
	if d.GreaterThan(subtotal) {
		d = subtotal.RoundFloor(2)
	}
	return d
}

// ApplicableItemIDs returns the line ids within p's target scope.
func ApplicableItemIDs(p *Promotion, ec EligibilityContext) []string {
	items := applicableItems(p, ec.Items)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.LineID()
	}
	return ids
}

// applicableItems filters items by the promotion's target scope.
func applicableItems(p *Promotion, items []Item) []Item {
	if p.TargetType == TargetAll || p.TargetType == "" {
		return items
	}
	var out []Item
	for _, it := range items {
		key := it.ProductID
		if p.TargetType == TargetCategory {
			key = it.Category
		}
		if slices.Contains(p.TargetIDs, key) {
			out = append(out, it)
		}
	}
	return out
}

func selectItems(p *Promotion, items []Item, ids []string) []Item {
	scoped := applicableItems(p, items)
	if ids == nil {
		return scoped
	}
	var out []Item
	for _, it := range scoped {
		if slices.Contains(ids, it.LineID()) {
			out = append(out, it)
		}
	}
	return out
}

// tierPercent returns the percent of the highest tier whose threshold is met.
func tierPercent(tiers []Tier, amount decimal.Decimal) (decimal.Decimal, bool) {
	var (
		best  Tier
		found bool
	)
	for _, t := range tiers {
		if t.Threshold.GreaterThan(amount) {
			continue
		}
		if !found || t.Threshold.GreaterThan(best.Threshold) {
			best, found = t, true
		}
	}
	return best.Percent, found
}

// buyXGetY discounts the cheapest floor(units/(buy+get))·get units.
func buyXGetY(p *Promotion, items []Item) decimal.Decimal {
	if p.BuyQuantity < 1 || p.GetQuantity < 1 {
		return zero
	}

	var units int
	for _, it := range items {
		if it.Quantity > 0 {
			units += it.Quantity
		}
	}
	free := units / (p.BuyQuantity + p.GetQuantity) * p.GetQuantity
	if free == 0 {
		return zero
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int {
		return a.UnitPrice.Cmp(b.UnitPrice)
	})

	sum := zero
	for _, it := range sorted {
		if free == 0 {
			break
		}
		if it.Quantity <= 0 {
			continue
		}
		n := min(it.Quantity, free)
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(n))))
		free -= n
	}

	pct := hundred
	if p.GetPercent.Valid {
		pct = p.GetPercent.Decimal
	}
	return sum.Mul(pct).Div(hundred)
}

func calcSubtotal(items []Item) decimal.Decimal {
	sum := zero
	for _, it := range items {
		if it.Quantity > 0 {
			sum = sum.Add(it.Total())
		}
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
