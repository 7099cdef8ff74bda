package promotion

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/promotion/rule"
)

// Reason codes reported for ineligible or rejected promotions.
const (
	ReasonPromotionInactive  = "promotion_inactive"
	ReasonNotStarted         = "not_started"
	ReasonExpired            = "expired"
	ReasonMinOrderNotMet     = "min_order_not_met"
	ReasonUsageLimitReached  = "usage_limit_reached"
	ReasonCustomerRequired   = "customer_required"
	ReasonCustomerLimit      = "customer_limit_reached"
	ReasonNoTargetItems      = "no_target_items"
	ReasonRulesNotMet        = "rules_not_met"
	ReasonRulesInvalid       = "rules_invalid"
	ReasonCouponInactive     = "coupon_inactive"
	ReasonCouponNotStarted   = "coupon_not_started"
	ReasonCouponExpired      = "coupon_expired"
	ReasonCouponAssigned     = "coupon_assigned_elsewhere"
	ReasonCouponUsageReached = "coupon_usage_limit_reached"
	ReasonStackLimit         = "stack_limit_exceeded"
	ReasonMutuallyExclusive  = "mutually_exclusive"
	ReasonPriorityOnly       = "priority_only"
	ReasonNotStackable       = "not_stackable"
	ReasonSubtotalCap        = "subtotal_cap"
	ReasonUsageCommitFailed  = "usage_commit_failed"
	ReasonNotFound           = "not_found"
	ReasonZeroDiscount       = "zero_discount"
	ReasonOrderApplied       = "order_already_applied"
)

// Reason explains why a promotion did not apply. Code is stable and
// machine-readable; Message is meant for the end customer.
type Reason struct {
	Code    string
	Message string
}

func reason(code, format string, args ...any) *Reason {
	return &Reason{Code: code, Message: fmt.Sprintf(format, args...)}
}

// EligibilityResult is the outcome of an eligibility check. Score is zero
// when the promotion is not eligible.
type EligibilityResult struct {
	Eligible bool
	Reason   *Reason
	Score    float64
}

func ineligible(r *Reason) EligibilityResult {
	return EligibilityResult{Reason: r}
}

// Match describes how strongly a context matched a promotion.
type Match struct {
	// RuleScore is the weighted fraction of satisfied top-level rule
	// conditions, zero when the promotion has no rules.
	RuleScore float64
	HasRules  bool
	// Targeted is true when the promotion is limited to products or
	// categories and the cart matched them.
	Targeted bool
}

// Scorer maps a successful match to a tie-break score in [0, 1]. It must be
// monotonic in RuleScore and Targeted.
type Scorer func(p *Promotion, m Match) float64

// DefaultScorer rewards rule specificity and explicit targeting.
func DefaultScorer(_ *Promotion, m Match) float64 {
	s := 0.5 + 0.25*m.RuleScore
	if m.Targeted {
		s += 0.25
	}
	return s
}

// Checker decides promotion and coupon eligibility. It is stateless and safe
// for concurrent use.
type Checker struct {
	scorer Scorer
}

// NewChecker returns a Checker using scorer, or DefaultScorer when nil.
func NewChecker(scorer Scorer) *Checker {
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Checker{scorer: scorer}
}

// IsPromotionEligible runs the eligibility checks in order and reports the
// first failure. customerUsage is the number of times ec.Customer has already
// used p. An error is returned only for an unparsable rule tree.
func (c *Checker) IsPromotionEligible(p *Promotion, ec EligibilityContext, customerUsage int64) (EligibilityResult, error) {
	if p.Status != StatusActive {
		return ineligible(reason(ReasonPromotionInactive, "promotion is not active")), nil
	}

	if ec.Now.Before(p.StartDate) {
		return ineligible(reason(ReasonNotStarted, "promotion starts at %s", p.StartDate.Format(time.RFC3339))), nil
	}
	if ec.Now.After(p.EndDate) {
		return ineligible(reason(ReasonExpired, "promotion has expired")), nil
	}

	if p.MinOrderAmount.Valid && ec.Amount().LessThan(p.MinOrderAmount.Decimal) {
		return ineligible(reason(ReasonMinOrderNotMet,
			"minimum order amount is %s", p.MinOrderAmount.Decimal.StringFixed(2))), nil
	}

	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return ineligible(reason(ReasonUsageLimitReached, "promotion usage limit reached")), nil
	}

	if p.UsagePerCustomer != nil {
		if ec.Customer.ID == "" {
			return ineligible(reason(ReasonCustomerRequired, "sign in to use this promotion")), nil
		}
		if customerUsage >= *p.UsagePerCustomer {
			return ineligible(reason(ReasonCustomerLimit,
				"already used: limit is %d per customer", *p.UsagePerCustomer)), nil
		}
	}

	targeted := false
	if p.TargetType != TargetAll {
		if len(applicableItems(p, ec.Items)) == 0 {
			return ineligible(reason(ReasonNoTargetItems, "no items in the cart qualify for this promotion")), nil
		}
		targeted = true
	}

	tree, err := rule.Parse(p.EligibilityRules)
	if err != nil {
		return EligibilityResult{}, errors.Wrapf(err, "promotion %s rules", p.ID)
	}
	m := Match{Targeted: targeted}
	if tree != nil {
		facts := ec.Facts()
		if !rule.Evaluate(tree, facts) {
			return ineligible(reason(ReasonRulesNotMet, "order does not meet the promotion conditions")), nil
		}
		m.HasRules = true
		m.RuleScore = rule.Score(tree, facts)
	}

	return EligibilityResult{Eligible: true, Score: clampScore(c.scorer(p, m))}, nil
}

// IsCouponEligible checks the coupon's own constraints before those of its
// parent promotion.
func (c *Checker) IsCouponEligible(cp *Coupon, p *Promotion, ec EligibilityContext, customerUsage int64) (EligibilityResult, error) {
	if cp.Status != StatusActive {
		return ineligible(reason(ReasonCouponInactive, "coupon %s is not active", cp.Code)), nil
	}
	if ec.Now.Before(cp.StartDate) {
		return ineligible(reason(ReasonCouponNotStarted, "coupon %s is not valid yet", cp.Code)), nil
	}
	if ec.Now.After(cp.EndDate) {
		return ineligible(reason(ReasonCouponExpired, "coupon %s has expired", cp.Code)), nil
	}
	if cp.UsageLimit != nil && cp.UsageCount >= *cp.UsageLimit {
		return ineligible(reason(ReasonCouponUsageReached, "coupon %s has already been used", cp.Code)), nil
	}
	if cp.AssignedTo != "" && cp.AssignedTo != ec.Customer.ID {
		return ineligible(reason(ReasonCouponAssigned, "coupon %s belongs to another customer", cp.Code)), nil
	}
	return c.IsPromotionEligible(p, ec, customerUsage)
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
