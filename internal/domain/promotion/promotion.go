// Package promotion implements promotion and coupon eligibility, discount
// calculation, conflict resolution, and the service that commits usage.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType selects how a promotion's discount amount is computed.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
	DiscountTiered      DiscountType = "TIERED"
	DiscountBuyXGetY    DiscountType = "BUY_X_GET_Y"
)

func (t DiscountType) valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountTiered, DiscountBuyXGetY:
		return true
	}
	return false
}

// Status is the lifecycle state of a promotion or coupon.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusExpired  Status = "EXPIRED"
	StatusArchived Status = "ARCHIVED"
)

func (s Status) valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// TargetType restricts a promotion to part of the cart.
type TargetType string

const (
	TargetAll      TargetType = "ALL"
	TargetProduct  TargetType = "PRODUCT"
	TargetCategory TargetType = "CATEGORY"
)

func (t TargetType) valid() bool {
	switch t {
	case TargetAll, TargetProduct, TargetCategory:
		return true
	}
	return false
}

// Tier is one row of a TIERED threshold table.
type Tier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Percent   decimal.Decimal `json:"percent"`
}

// Promotion is a discount campaign.
type Promotion struct {
	ID          string
	TenantID    string
	Code        string
	Name        string
	Description string
	// Type is a free-form campaign category (e.g. "SEASONAL"). StackableWith
	// entries may reference it.
	Type string

	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	MinOrderAmount    decimal.NullDecimal
	Tiers             []Tier
	BuyQuantity       int
	GetQuantity       int
	GetPercent        decimal.NullDecimal

	// EligibilityRules holds the JSON rule tree; see package rule.
	EligibilityRules []byte
	TargetType       TargetType
	TargetIDs        []string

	UsageLimit       *int64
	UsagePerCustomer *int64
	UsageCount       int64

	StartDate time.Time
	EndDate   time.Time

	Priority      int
	Stackable     bool
	StackableWith []string

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Coupon is a redeemable code bound to exactly one promotion.
type Coupon struct {
	ID          string
	TenantID    string
	PromotionID string
	Code        string
	// AssignedTo restricts redemption to one customer when non-empty.
	AssignedTo string
	UsageLimit *int64
	UsageCount int64
	StartDate  time.Time
	EndDate    time.Time
	Status     Status
	CreatedAt  time.Time
}

// ConflictType describes how the promotions of a ConflictRule interact.
type ConflictType string

const (
	ConflictMutuallyExclusive ConflictType = "MUTUALLY_EXCLUSIVE"
	ConflictStackLimit        ConflictType = "STACK_LIMIT"
	ConflictPriorityOnly      ConflictType = "PRIORITY_ONLY"
)

func (t ConflictType) valid() bool {
	switch t {
	case ConflictMutuallyExclusive, ConflictStackLimit, ConflictPriorityOnly:
		return true
	}
	return false
}

// Strategy picks winners inside a conflict group.
type Strategy string

const (
	StrategyHighestDiscount Strategy = "HIGHEST_DISCOUNT"
	StrategyHighestPriority Strategy = "HIGHEST_PRIORITY"
	StrategyFirstEligible   Strategy = "FIRST_ELIGIBLE"
	StrategyCustomRules     Strategy = "CUSTOM_RULES"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyHighestDiscount, StrategyHighestPriority, StrategyFirstEligible, StrategyCustomRules:
		return true
	}
	return false
}

// ResolutionRules carries strategy parameters.
type ResolutionRules struct {
	// MaxStack is the number of promotions a STACK_LIMIT group admits.
	MaxStack int `json:"maxStack,omitempty"`
	// PreferredOrder ranks promotion ids for CUSTOM_RULES.
	PreferredOrder []string `json:"preferredOrder,omitempty"`
}

// ConflictRule governs how a set of promotions may combine.
type ConflictRule struct {
	ID           string
	TenantID     string
	Name         string
	Type         ConflictType
	PromotionIDs []string
	Strategy     Strategy
	Rules        ResolutionRules
	Priority     int
	Active       bool
	CreatedAt    time.Time
}

// Usage is an immutable audit row written when a promotion is applied to an
// order.
type Usage struct {
	ID             string
	TenantID       string
	PromotionID    string
	CouponID       string
	OrderID        string
	CustomerID     string
	DiscountAmount decimal.Decimal
	OriginalAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	AppliedItems   []string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// UsageCommit is one selected promotion to be committed atomically with the
// others of the same apply call.
type UsageCommit struct {
	Usage Usage
	// PerCustomerLimit, when set, bounds the (promotion, customer) counter.
	PerCustomerLimit *int64
}

// ListFilter narrows ListPromotions.
type ListFilter struct {
	TenantID string
	Status   Status
	Limit    int
	Offset   int
}

// PromotionStat aggregates usage history of a single promotion.
type PromotionStat struct {
	PromotionID     string
	Code            string
	Usages          int64
	UniqueCustomers int64
	TotalDiscount   decimal.Decimal
	AverageDiscount decimal.Decimal
	FirstUsedAt     *time.Time
	LastUsedAt      *time.Time
}

// Statistics aggregates usage history of a tenant.
type Statistics struct {
	TenantID         string
	TotalPromotions  int64
	ActivePromotions int64
	TotalUsages      int64
	UniqueCustomers  int64
	TotalDiscount    decimal.Decimal
	TotalOriginal    decimal.Decimal
	TopPromotions    []PromotionStat
}

// Sentinel errors.
var (
	ErrPromotionNotFound    = errors.New("promotion not found")
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrConflictRuleNotFound = errors.New("conflict rule not found")
	ErrDuplicateCode        = errors.New("code already exists")
	ErrAlreadyApplied       = errors.New("promotion already applied to order")
)

// LimitExceededError is returned by Repository.CommitUsage when a conditional
// counter increment is refused.
type LimitExceededError struct {
	PromotionID string
	// Scope is "global", "customer" or "coupon".
	Scope string
}

func (e *LimitExceededError) Error() string {
	return "usage limit reached for promotion " + e.PromotionID + " (" + e.Scope + ")"
}

// Limit scopes.
const (
	ScopeGlobal   = "global"
	ScopeCustomer = "customer"
	ScopeCoupon   = "coupon"
)

// Repository is the persistence port of the promotion engine.
type Repository interface {
	GetPromotionByID(ctx context.Context, id string) (*Promotion, error)
	GetPromotionByCode(ctx context.Context, tenantID, code string) (*Promotion, error)
	ListPromotions(ctx context.Context, f ListFilter) ([]Promotion, error)
	CreatePromotion(ctx context.Context, p *Promotion) error
	UpdatePromotion(ctx context.Context, p *Promotion) error
	DeletePromotion(ctx context.Context, id string) error
	HasUsage(ctx context.Context, promotionID string) (bool, error)

	GetCouponByCode(ctx context.Context, tenantID, code string) (*Coupon, error)
	GetCouponsByCustomer(ctx context.Context, tenantID, customerID string) ([]Coupon, error)
	CreateCoupon(ctx context.Context, c *Coupon) error

	CreateConflictRule(ctx context.Context, r *ConflictRule) error
	ListConflictRules(ctx context.Context, tenantID string) ([]ConflictRule, error)
	// GetConflictRulesForPromotions returns active rules whose promotion set
	// intersects ids.
	GetConflictRulesForPromotions(ctx context.Context, ids []string) ([]ConflictRule, error)

	CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int64, error)
	// CommitUsage increments every counter and writes every audit row in one
	// transaction. Increments are conditional; a refused increment rolls the
	// whole batch back and returns *LimitExceededError.
	CommitUsage(ctx context.Context, commits []UsageCommit) error
	// GetOrderUsage returns the usage rows committed for an order, oldest
	// first. An order that was never applied has none.
	GetOrderUsage(ctx context.Context, tenantID, orderID string) ([]Usage, error)

	PromotionStatistics(ctx context.Context, tenantID string, from, to *time.Time) (*Statistics, error)
	PromotionUsageStats(ctx context.Context, promotionID string, from, to *time.Time) (*PromotionStat, error)

	Ping(ctx context.Context) error
}
