package handler

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// --- Request DTOs ---

type promotionRequest struct {
	Code              string              `json:"code" validate:"omitempty,max=64"`
	Name              string              `json:"name" validate:"required,max=255"`
	Description       string              `json:"description"`
	Type              string              `json:"type" validate:"max=64"`
	DiscountType      string              `json:"discountType" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT TIERED BUY_X_GET_Y"`
	DiscountValue     decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
	MinOrderAmount    decimal.NullDecimal `json:"minOrderAmount"`
	Tiers             []promotion.Tier    `json:"tiers"`
	BuyQuantity       int                 `json:"buyQuantity" validate:"gte=0"`
	GetQuantity       int                 `json:"getQuantity" validate:"gte=0"`
	GetPercent        decimal.NullDecimal `json:"getPercent"`
	EligibilityRules  json.RawMessage     `json:"eligibilityRules"`
	TargetType        string              `json:"targetType" validate:"omitempty,oneof=ALL PRODUCT CATEGORY"`
	TargetIDs         []string            `json:"targetIds" validate:"dive,required"`
	UsageLimit        *int64              `json:"usageLimit" validate:"omitempty,gte=0"`
	UsagePerCustomer  *int64              `json:"usagePerCustomer" validate:"omitempty,gte=1"`
	StartDate         string              `json:"startDate" validate:"required"`
	EndDate           string              `json:"endDate" validate:"required"`
	Priority          int                 `json:"priority"`
	Stackable         *bool               `json:"stackable"`
	StackableWith     []string            `json:"stackableWith" validate:"dive,required"`
	Status            string              `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE PAUSED EXPIRED ARCHIVED"`
}

func (req promotionRequest) toDomain(tenant string) (promotion.Promotion, error) {
	start, err := parseTime("startDate", req.StartDate)
	if err != nil {
		return promotion.Promotion{}, err
	}
	end, err := parseEndTime("endDate", req.EndDate)
	if err != nil {
		return promotion.Promotion{}, err
	}
	// Promotions stack unless told otherwise.
	stackable := req.Stackable == nil || *req.Stackable
	return promotion.Promotion{
		TenantID:          tenant,
		Code:              req.Code,
		Name:              req.Name,
		Description:       req.Description,
		Type:              req.Type,
		DiscountType:      promotion.DiscountType(req.DiscountType),
		DiscountValue:     req.DiscountValue,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MinOrderAmount:    req.MinOrderAmount,
		Tiers:             req.Tiers,
		BuyQuantity:       req.BuyQuantity,
		GetQuantity:       req.GetQuantity,
		GetPercent:        req.GetPercent,
		EligibilityRules:  rawRules(req.EligibilityRules),
		TargetType:        promotion.TargetType(req.TargetType),
		TargetIDs:         req.TargetIDs,
		UsageLimit:        req.UsageLimit,
		UsagePerCustomer:  req.UsagePerCustomer,
		StartDate:         start,
		EndDate:           end,
		Priority:          req.Priority,
		Stackable:         stackable,
		StackableWith:     req.StackableWith,
		Status:            promotion.Status(req.Status),
	}, nil
}

// promotionPatchRequest leaves absent fields untouched.
type promotionPatchRequest struct {
	Code              *string              `json:"code" validate:"omitempty,max=64"`
	Name              *string              `json:"name" validate:"omitempty,max=255"`
	Description       *string              `json:"description"`
	Type              *string              `json:"type" validate:"omitempty,max=64"`
	DiscountValue     *decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount *decimal.NullDecimal `json:"maxDiscountAmount"`
	MinOrderAmount    *decimal.NullDecimal `json:"minOrderAmount"`
	Tiers             []promotion.Tier     `json:"tiers"`
	BuyQuantity       *int                 `json:"buyQuantity" validate:"omitempty,gte=0"`
	GetQuantity       *int                 `json:"getQuantity" validate:"omitempty,gte=0"`
	GetPercent        *decimal.NullDecimal `json:"getPercent"`
	EligibilityRules  json.RawMessage      `json:"eligibilityRules"`
	TargetType        *string              `json:"targetType" validate:"omitempty,oneof=ALL PRODUCT CATEGORY"`
	TargetIDs         []string             `json:"targetIds" validate:"omitempty,dive,required"`
	UsageLimit        *int64               `json:"usageLimit" validate:"omitempty,gte=0"`
	UsagePerCustomer  *int64               `json:"usagePerCustomer" validate:"omitempty,gte=1"`
	StartDate         *string              `json:"startDate"`
	EndDate           *string              `json:"endDate"`
	Priority          *int                 `json:"priority"`
	Stackable         *bool                `json:"stackable"`
	StackableWith     []string             `json:"stackableWith" validate:"omitempty,dive,required"`
	Status            *string              `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE PAUSED EXPIRED ARCHIVED"`
}

func (req promotionPatchRequest) toDomain() (promotion.PromotionPatch, error) {
	patch := promotion.PromotionPatch{
		Code:              req.Code,
		Name:              req.Name,
		Description:       req.Description,
		Type:              req.Type,
		DiscountValue:     req.DiscountValue,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MinOrderAmount:    req.MinOrderAmount,
		Tiers:             req.Tiers,
		BuyQuantity:       req.BuyQuantity,
		GetQuantity:       req.GetQuantity,
		GetPercent:        req.GetPercent,
		TargetIDs:         req.TargetIDs,
		UsageLimit:        req.UsageLimit,
		UsagePerCustomer:  req.UsagePerCustomer,
		Priority:          req.Priority,
		Stackable:         req.Stackable,
		StackableWith:     req.StackableWith,
	}
	if req.EligibilityRules != nil {
		// An explicit null clears the rules.
		patch.EligibilityRules = []byte{}
		if r := rawRules(req.EligibilityRules); r != nil {
			patch.EligibilityRules = r
		}
	}
	if req.TargetType != nil {
		tt := promotion.TargetType(*req.TargetType)
		patch.TargetType = &tt
	}
	if req.Status != nil {
		st := promotion.Status(*req.Status)
		patch.Status = &st
	}
	if req.StartDate != nil {
		t, err := parseTime("startDate", *req.StartDate)
		if err != nil {
			return patch, err
		}
		patch.StartDate = &t
	}
	if req.EndDate != nil {
		t, err := parseEndTime("endDate", *req.EndDate)
		if err != nil {
			return patch, err
		}
		patch.EndDate = &t
	}
	return patch, nil
}

type couponRequest struct {
	PromotionID string `json:"promotionId" validate:"required"`
	Code        string `json:"code" validate:"omitempty,max=64"`
	AssignedTo  string `json:"assignedTo"`
	UsageLimit  *int64 `json:"usageLimit" validate:"omitempty,gte=0"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Status      string `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE PAUSED EXPIRED ARCHIVED"`
}

func (req couponRequest) toDomain(tenant string) (promotion.Coupon, error) {
	c := promotion.Coupon{
		TenantID:    tenant,
		PromotionID: req.PromotionID,
		Code:        req.Code,
		AssignedTo:  req.AssignedTo,
		UsageLimit:  req.UsageLimit,
		Status:      promotion.Status(req.Status),
	}
	var err error
	if req.StartDate != "" {
		if c.StartDate, err = parseTime("startDate", req.StartDate); err != nil {
			return c, err
		}
	}
	if req.EndDate != "" {
		if c.EndDate, err = parseEndTime("endDate", req.EndDate); err != nil {
			return c, err
		}
	}
	return c, nil
}

type conflictRuleRequest struct {
	Name               string   `json:"name" validate:"max=255"`
	ConflictType       string   `json:"conflictType" validate:"required,oneof=MUTUALLY_EXCLUSIVE STACK_LIMIT PRIORITY_ONLY"`
	PromotionIDs       []string `json:"promotionIds" validate:"required,min=2,dive,required"`
	ResolutionStrategy string   `json:"resolutionStrategy" validate:"omitempty,oneof=HIGHEST_DISCOUNT HIGHEST_PRIORITY FIRST_ELIGIBLE CUSTOM_RULES"`
	ResolutionRules    struct {
		MaxStack       int      `json:"maxStack" validate:"gte=0"`
		PreferredOrder []string `json:"preferredOrder"`
	} `json:"resolutionRules"`
	Priority int   `json:"priority"`
	Active   *bool `json:"active"`
}

func (req conflictRuleRequest) toDomain(tenant string) promotion.ConflictRule {
	strategy := promotion.Strategy(req.ResolutionStrategy)
	if strategy == "" {
		strategy = promotion.StrategyHighestDiscount
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return promotion.ConflictRule{
		TenantID:     tenant,
		Name:         req.Name,
		Type:         promotion.ConflictType(req.ConflictType),
		PromotionIDs: req.PromotionIDs,
		Strategy:     strategy,
		Rules: promotion.ResolutionRules{
			MaxStack:       req.ResolutionRules.MaxStack,
			PreferredOrder: req.ResolutionRules.PreferredOrder,
		},
		Priority: req.Priority,
		Active:   active,
	}
}

type itemRequest struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId" validate:"required"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type customerRequest struct {
	ID         string `json:"id"`
	Tier       string `json:"tier"`
	SignupDate string `json:"signupDate"`
	OrderCount int    `json:"orderCount" validate:"gte=0"`
}

// contextRequest is the cart/customer snapshot shared by eligibility,
// apply and preview.
type contextRequest struct {
	OrderID     string            `json:"orderId"`
	OrderAmount decimal.Decimal   `json:"orderAmount"`
	Items       []itemRequest     `json:"items" validate:"required,min=1,dive"`
	Customer    customerRequest   `json:"customer"`
	Attributes  map[string]string `json:"attributes"`
}

func (req contextRequest) toDomain(tenant string) (promotion.EligibilityContext, error) {
	ec := promotion.EligibilityContext{
		TenantID:    tenant,
		OrderID:     req.OrderID,
		OrderAmount: req.OrderAmount,
		Items:       make([]promotion.Item, len(req.Items)),
		Customer: promotion.Customer{
			ID:         req.Customer.ID,
			Tier:       req.Customer.Tier,
			OrderCount: req.Customer.OrderCount,
		},
		Attributes: req.Attributes,
	}
	for i, it := range req.Items {
		ec.Items[i] = promotion.Item{
			ID:        it.ID,
			ProductID: it.ProductID,
			Category:  it.Category,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	if req.Customer.SignupDate != "" {
		t, err := parseTime("customer.signupDate", req.Customer.SignupDate)
		if err != nil {
			return ec, err
		}
		ec.Customer.SignupDate = t
	}
	return ec, nil
}

type applyRequest struct {
	OrderID      string            `json:"orderId"`
	OrderAmount  decimal.Decimal   `json:"orderAmount"`
	Items        []itemRequest     `json:"items" validate:"required,min=1,dive"`
	Customer     customerRequest   `json:"customer"`
	Attributes   map[string]string `json:"attributes"`
	PromotionIDs []string          `json:"promotionIds" validate:"dive,required"`
	CouponCodes  []string          `json:"couponCodes" validate:"dive,required"`
}

func (req applyRequest) toDomain(tenant string, dryRun bool) (promotion.ApplyRequest, error) {
	ec, err := contextRequest{
		OrderID:     req.OrderID,
		OrderAmount: req.OrderAmount,
		Items:       req.Items,
		Customer:    req.Customer,
		Attributes:  req.Attributes,
	}.toDomain(tenant)
	if err != nil {
		return promotion.ApplyRequest{}, err
	}
	return promotion.ApplyRequest{
		Context:      ec,
		PromotionIDs: req.PromotionIDs,
		CouponCodes:  req.CouponCodes,
		DryRun:       dryRun,
	}, nil
}

// --- Parsing helpers ---

const dateLayout = "2006-01-02"

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(field, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &promotion.ValidationError{Violations: []promotion.Violation{{
			Field:   field,
			Message: "must be an RFC 3339 timestamp or a YYYY-MM-DD date",
		}}}
	}
	return t, nil
}

// parseEndTime is parseTime for the end of a range: a plain date covers the
// whole day, up to the last microsecond the store can hold.
func parseEndTime(field, s string) (time.Time, error) {
	t, err := parseTime(field, s)
	if err != nil {
		return t, err
	}
	if len(s) == len(dateLayout) {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return t, nil
}

// rawRules maps an absent or null rule tree to nil.
func rawRules(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// timeRange reads optional from/to query parameters.
func timeRange(q url.Values) (from, to *time.Time, err error) {
	for _, p := range []struct {
		name string
		dst  **time.Time
		parse func(field, s string) (time.Time, error)
	}{{"from", &from, parseTime}, {"to", &to, parseEndTime}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := p.parse(p.name, v)
		if err != nil {
			return nil, nil, err
		}
		*p.dst = &t
	}
	return from, to, nil
}

func intParam(q url.Values, name string, def, maxValue int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return min(n, maxValue), nil
}
