package promotion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// --- Helpers ---

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func item(id, category, price string, qty int) Item {
	return Item{ProductID: id, Category: category, UnitPrice: d(price), Quantity: qty}
}

func cart(items ...Item) EligibilityContext {
	return EligibilityContext{TenantID: "t1", Items: items}
}

// --- Tests ---

func TestCalculateDiscountAmount(t *testing.T) {
	tests := []struct {
		name  string
		promo Promotion
		ec    EligibilityContext
		ids   []string
		want  string
	}{
		{
			name:  "percentage of subtotal",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("10"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "50.00", 4)),
			want:  "20.00",
		},
		{
			name:  "percentage capped",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("50"), MaxDiscountAmount: nd("15"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "100.00", 1)),
			want:  "15.00",
		},
		{
			name:  "percentage above 100 with cap never exceeds subtotal",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("150"), MaxDiscountAmount: nd("500"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "40.00", 1)),
			want:  "40.00",
		},
		{
			name:  "fixed capped at subtotal",
			promo: Promotion{DiscountType: DiscountFixedAmount, DiscountValue: d("30"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "12.50", 2)),
			want:  "25.00",
		},
		{
			name:  "fixed capped at max discount",
			promo: Promotion{DiscountType: DiscountFixedAmount, DiscountValue: d("30"), MaxDiscountAmount: nd("20"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "100.00", 1)),
			want:  "20.00",
		},
		{
			name: "tiered picks highest met threshold",
			promo: Promotion{DiscountType: DiscountTiered, TargetType: TargetAll, Tiers: []Tier{
				{Threshold: d("50"), Percent: d("5")},
				{Threshold: d("200"), Percent: d("15")},
				{Threshold: d("100"), Percent: d("10")},
			}},
			ec:   cart(item("p1", "food", "150.00", 1)),
			want: "15.00",
		},
		{
			name:  "tiered below every threshold",
			promo: Promotion{DiscountType: DiscountTiered, TargetType: TargetAll, Tiers: []Tier{{Threshold: d("100"), Percent: d("10")}}},
			ec:    cart(item("p1", "food", "99.99", 1)),
			want:  "0",
		},
		{
			name:  "buy two get one frees cheapest units",
			promo: Promotion{DiscountType: DiscountBuyXGetY, BuyQuantity: 2, GetQuantity: 1, TargetType: TargetAll},
			ec:    cart(item("p1", "food", "10.00", 3), item("p2", "food", "4.00", 3)),
			want:  "8.00",
		},
		{
			name:  "buy one get one half off",
			promo: Promotion{DiscountType: DiscountBuyXGetY, BuyQuantity: 1, GetQuantity: 1, GetPercent: nd("50"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "9.99", 2)),
			want:  "5.00",
		},
		{
			name:  "buy x get y with too few units",
			promo: Promotion{DiscountType: DiscountBuyXGetY, BuyQuantity: 3, GetQuantity: 1, TargetType: TargetAll},
			ec:    cart(item("p1", "food", "10.00", 3)),
			want:  "0",
		},
		{
			name:  "category target limits subtotal",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("20"), TargetType: TargetCategory, TargetIDs: []string{"shoes"}},
			ec:    cart(item("p1", "shoes", "80.00", 1), item("p2", "hats", "20.00", 1)),
			want:  "16.00",
		},
		{
			name:  "explicit item ids intersect with scope",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("10"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "30.00", 1), item("p2", "food", "70.00", 1)),
			ids:   []string{"p2"},
			want:  "7.00",
		},
		{
			name:  "rounds half up once",
			promo: Promotion{DiscountType: DiscountPercentage, DiscountValue: d("12.5"), TargetType: TargetAll},
			ec:    cart(item("p1", "food", "0.20", 1)),
			want:  "0.03",
		},
		{
			name:  "empty cart",
			promo: Promotion{DiscountType: DiscountFixedAmount, DiscountValue: d("5"), TargetType: TargetAll},
			ec:    cart(),
			want:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscountAmount(&tt.promo, tt.ec, tt.ids)
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCalculateDiscountAmount_BoundedBySubtotal(t *testing.T) {
	types := []Promotion{
		{DiscountType: DiscountPercentage, DiscountValue: d("100"), TargetType: TargetAll},
		{DiscountType: DiscountFixedAmount, DiscountValue: d("1000"), TargetType: TargetAll},
		{DiscountType: DiscountTiered, TargetType: TargetAll, Tiers: []Tier{{Threshold: d("0"), Percent: d("100")}}},
		{DiscountType: DiscountBuyXGetY, BuyQuantity: 1, GetQuantity: 5, TargetType: TargetAll},
	}
	carts := []EligibilityContext{
		cart(item("p1", "a", "0.01", 1)),
		cart(item("p1", "a", "19.99", 3), item("p2", "b", "0.05", 7)),
		cart(item("p1", "a", "1234.56", 2)),
	}

	for _, p := range types {
		for _, ec := range carts {
			got := CalculateDiscountAmount(&p, ec, nil)
			assert.False(t, got.IsNegative(), "%s: negative discount", p.DiscountType)
			assert.True(t, got.LessThanOrEqual(ec.Subtotal()), "%s: %s exceeds %s", p.DiscountType, got, ec.Subtotal())
		}
	}
}

func TestCalculateDiscountAmount_PercentageRoundingLaw(t *testing.T) {
	percents := []string{"1", "7.5", "10", "33", "99.9"}
	subtotals := []string{"0.01", "1.99", "200.00", "333.33", "1000.05"}

	for _, p := range percents {
		for _, s := range subtotals {
			promo := Promotion{DiscountType: DiscountPercentage, DiscountValue: d(p), TargetType: TargetAll}
			got := CalculateDiscountAmount(&promo, cart(item("p1", "a", s, 1)), nil)
			want := d(p).Div(hundred).Mul(d(s)).Round(2)
			assert.True(t, want.Equal(got), "%s%% of %s: want %s, got %s", p, s, want, got)
		}
	}
}
