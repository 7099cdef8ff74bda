package promotion

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion/rule"
)

// Item is a cart line.
type Item struct {
	// ID identifies the line. Defaults to ProductID when empty.
	ID        string
	ProductID string
	Category  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineID returns the identifier reported in applied item lists.
func (i Item) LineID() string {
	if i.ID != "" {
		return i.ID
	}
	return i.ProductID
}

// Total returns UnitPrice × Quantity.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer holds the customer attributes rules can reference.
type Customer struct {
	ID         string
	Tier       string
	SignupDate time.Time
	OrderCount int
}

// EligibilityContext is the request-scoped cart/customer/time snapshot.
type EligibilityContext struct {
	TenantID string
	OrderID  string
	// OrderAmount is the amount thresholds apply to. Zero means the item
	// subtotal.
	OrderAmount decimal.Decimal
	Items       []Item
	Customer    Customer
	Attributes  map[string]string
	Now         time.Time
}

// Subtotal sums all line totals.
func (ec EligibilityContext) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range ec.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// Amount returns OrderAmount, or the subtotal when OrderAmount is zero.
func (ec EligibilityContext) Amount() decimal.Decimal {
	if ec.OrderAmount.IsZero() {
		return ec.Subtotal()
	}
	return ec.OrderAmount
}

// Facts exposes the context to the rule evaluator. Absent attributes are
// left out so that rules referencing them fail closed.
func (ec EligibilityContext) Facts() rule.MapFacts {
	var (
		units      int64
		products   []string
		categories []string
		seenProd   = make(map[string]struct{})
		seenCat    = make(map[string]struct{})
	)
	for _, it := range ec.Items {
		units += int64(it.Quantity)
		if _, ok := seenProd[it.ProductID]; !ok && it.ProductID != "" {
			seenProd[it.ProductID] = struct{}{}
			products = append(products, it.ProductID)
		}
		if _, ok := seenCat[it.Category]; !ok && it.Category != "" {
			seenCat[it.Category] = struct{}{}
			categories = append(categories, it.Category)
		}
	}

	f := rule.MapFacts{
		"order.amount":        rule.Number(ec.Amount()),
		"order.subtotal":      rule.Number(ec.Subtotal()),
		"order.itemCount":     rule.Int(units),
		"order.lineCount":     rule.Int(int64(len(ec.Items))),
		"cart.productIds":     rule.Strings(products),
		"cart.categories":     rule.Strings(categories),
		"customer.orderCount": rule.Int(int64(ec.Customer.OrderCount)),
	}
	if ec.TenantID != "" {
		f["tenant.id"] = rule.String(ec.TenantID)
	}
	if ec.Customer.ID != "" {
		f["customer.id"] = rule.String(ec.Customer.ID)
	}
	if ec.Customer.Tier != "" {
		f["customer.tier"] = rule.String(ec.Customer.Tier)
	}
	if !ec.Customer.SignupDate.IsZero() && !ec.Now.IsZero() {
		days := math.Floor(ec.Now.Sub(ec.Customer.SignupDate).Hours() / 24)
		f["customer.daysSinceSignup"] = rule.Int(int64(days))
	}
	if !ec.Now.IsZero() {
		f["time.weekday"] = rule.Int(int64(ec.Now.Weekday()))
		f["time.hour"] = rule.Int(int64(ec.Now.Hour()))
	}
	for k, v := range ec.Attributes {
		f["attr."+k] = rule.String(v)
	}
	return f
}
