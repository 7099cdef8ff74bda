package promotion

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion/rule"
)

// Violation is one configuration problem.
type Violation struct {
	Field   string
	Message string
}

// ValidationError lists every configuration problem found in an input.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type violations []Violation

func (vs *violations) add(field, format string, args ...any) {
	*vs = append(*vs, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (vs violations) err() error {
	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

var hundred = decimal.NewFromInt(100)

// validatePromotion checks a promotion's configuration. The rule tree is
// parsed here so that invalid trees are rejected at write time.
func validatePromotion(p *Promotion) error {
	var vs violations

	if strings.TrimSpace(p.TenantID) == "" {
		vs.add("tenantId", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		vs.add("name", "is required")
	}
	if !p.DiscountType.valid() {
		vs.add("discountType", "unknown discount type %q", p.DiscountType)
	}
	if !p.Status.valid() {
		vs.add("status", "unknown status %q", p.Status)
	}
	if !p.TargetType.valid() {
		vs.add("targetType", "unknown target type %q", p.TargetType)
	} else if p.TargetType != TargetAll && len(p.TargetIDs) == 0 {
		vs.add("targetIds", "must not be empty for target type %s", p.TargetType)
	}

	if p.DiscountValue.IsNegative() {
		vs.add("discountValue", "must not be negative")
	}
	if p.MaxDiscountAmount.Valid && p.MaxDiscountAmount.Decimal.IsNegative() {
		vs.add("maxDiscountAmount", "must not be negative")
	}
	if p.MinOrderAmount.Valid && p.MinOrderAmount.Decimal.IsNegative() {
		vs.add("minOrderAmount", "must not be negative")
	}

	switch p.DiscountType {
	case DiscountPercentage:
		if p.DiscountValue.GreaterThan(hundred) && !p.MaxDiscountAmount.Valid {
			vs.add("discountValue", "percentage above 100 requires maxDiscountAmount")
		}
	case DiscountTiered:
		validateTiers(&vs, p)
	case DiscountBuyXGetY:
		if p.BuyQuantity < 1 {
			vs.add("buyQuantity", "must be at least 1")
		}
		if p.GetQuantity < 1 {
			vs.add("getQuantity", "must be at least 1")
		}
		if p.GetPercent.Valid && (p.GetPercent.Decimal.IsNegative() || p.GetPercent.Decimal.GreaterThan(hundred)) {
			vs.add("getPercent", "must be between 0 and 100")
		}
	}

	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		vs.add("endDate", "start and end dates are required")
	} else if p.EndDate.Before(p.StartDate) {
		vs.add("endDate", "must not be before startDate")
	}

	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		vs.add("usageLimit", "must not be negative")
	}
	if p.UsagePerCustomer != nil && *p.UsagePerCustomer < 1 {
		vs.add("usagePerCustomer", "must be at least 1")
	}

	if _, err := rule.Parse(p.EligibilityRules); err != nil {
		var ire *rule.InvalidRuleError
		if errors.As(err, &ire) {
			vs.add("eligibilityRules", "%s", ire.Error())
		} else {
			vs.add("eligibilityRules", "%s", err.Error())
		}
	}

	return vs.err()
}

func validateTiers(vs *violations, p *Promotion) {
	if len(p.Tiers) == 0 {
		vs.add("tiers", "at least one tier is required")
		return
	}
	seen := make(map[string]struct{}, len(p.Tiers))
	for i, t := range p.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.Threshold.IsNegative() {
			vs.add(field, "threshold must not be negative")
		}
		if t.Percent.IsNegative() || (t.Percent.GreaterThan(hundred) && !p.MaxDiscountAmount.Valid) {
			vs.add(field, "percent must be between 0 and 100")
		}
		key := t.Threshold.String()
		if _, dup := seen[key]; dup {
			vs.add(field, "duplicate threshold %s", key)
		}
		seen[key] = struct{}{}
	}
}

// validateCoupon checks a coupon against its parent promotion.
func validateCoupon(c *Coupon, parent *Promotion) error {
	var vs violations

	if strings.TrimSpace(c.TenantID) == "" {
		vs.add("tenantId", "is required")
	}
	if c.TenantID != parent.TenantID {
		vs.add("promotionId", "belongs to another tenant")
	}
	if !c.Status.valid() {
		vs.add("status", "unknown status %q", c.Status)
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		vs.add("usageLimit", "must not be negative")
	}
	if c.StartDate.Before(parent.StartDate) {
		vs.add("startDate", "must not precede the promotion start")
	}
	if c.EndDate.After(parent.EndDate) {
		vs.add("endDate", "must not exceed the promotion end")
	}
	if c.EndDate.Before(c.StartDate) {
		vs.add("endDate", "must not be before startDate")
	}

	return vs.err()
}

// validateConflictRule checks a conflict rule's configuration.
func validateConflictRule(r *ConflictRule) error {
	var vs violations

	if strings.TrimSpace(r.TenantID) == "" {
		vs.add("tenantId", "is required")
	}
	if !r.Type.valid() {
		vs.add("conflictType", "unknown conflict type %q", r.Type)
	}
	if !r.Strategy.valid() {
		vs.add("resolutionStrategy", "unknown strategy %q", r.Strategy)
	}
	uniq := make(map[string]struct{}, len(r.PromotionIDs))
	for _, id := range r.PromotionIDs {
		uniq[id] = struct{}{}
	}
	if len(uniq) < 2 {
		vs.add("promotionIds", "must reference at least two distinct promotions")
	}
	if r.Type == ConflictStackLimit && r.Rules.MaxStack < 1 {
		vs.add("resolutionRules.maxStack", "must be at least 1")
	}
	if r.Strategy == StrategyCustomRules && len(r.Rules.PreferredOrder) == 0 {
		vs.add("resolutionRules.preferredOrder", "is required for CUSTOM_RULES")
	}

	return vs.err()
}
