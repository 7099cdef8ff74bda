package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const promotionColumns = `id, tenant_id, code, name, description, type,
		discount_type, discount_value, max_discount_amount, min_order_amount,
		tiers, buy_quantity, get_quantity, get_percent, eligibility_rules,
		target_type, target_ids, usage_limit, usage_per_customer, usage_count,
		start_date, end_date, priority, stackable, stackable_with, status,
		created_at, updated_at`

const (
	getPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	getPromotionByCodeSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE tenant_id = $1 AND code = $2`

	listPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE tenant_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY priority DESC, created_at DESC, id
		LIMIT $3 OFFSET $4`

	createPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

	// usage_count is owned by CommitUsage and never rewritten here.
	updatePromotionSQL = `UPDATE promotions SET
		code = $2, name = $3, description = $4, type = $5,
		discount_type = $6, discount_value = $7, max_discount_amount = $8, min_order_amount = $9,
		tiers = $10, buy_quantity = $11, get_quantity = $12, get_percent = $13, eligibility_rules = $14,
		target_type = $15, target_ids = $16, usage_limit = $17, usage_per_customer = $18,
		start_date = $19, end_date = $20, priority = $21, stackable = $22, stackable_with = $23,
		status = $24, updated_at = $25
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`

	hasUsageSQL = `SELECT EXISTS (SELECT 1 FROM promotion_usage WHERE promotion_id = $1)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	db DB
}

// NewPromotionRepository returns a PromotionRepository that uses the given
// pool.
func NewPromotionRepository(db DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// Ping checks database connectivity.
func (r *PromotionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// GetPromotionByID returns a single promotion.
// Returns promotion.ErrPromotionNotFound when no row matches.
func (r *PromotionRepository) GetPromotionByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	return r.getPromotion(ctx, getPromotionByIDSQL, id)
}

// GetPromotionByCode returns the tenant's promotion with the given code.
func (r *PromotionRepository) GetPromotionByCode(ctx context.Context, tenantID, code string) (*promotion.Promotion, error) {
	return r.getPromotion(ctx, getPromotionByCodeSQL, tenantID, code)
}

func (r *PromotionRepository) getPromotion(ctx context.Context, sql string, args ...any) (*promotion.Promotion, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting promotion: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrPromotionNotFound
		}
		return nil, fmt.Errorf("getting promotion: %w", err)
	}
	return &p, nil
}

// ListPromotions returns a page of the tenant's promotions, highest
// priority first.
func (r *PromotionRepository) ListPromotions(ctx context.Context, f promotion.ListFilter) ([]promotion.Promotion, error) {
	rows, err := r.db.Query(ctx, listPromotionsSQL, f.TenantID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// CreatePromotion inserts p. A taken (tenant, code) pair yields
// promotion.ErrDuplicateCode.
func (r *PromotionRepository) CreatePromotion(ctx context.Context, p *promotion.Promotion) error {
	tiers, err := marshalTiers(p.Tiers)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, createPromotionSQL,
		p.ID, p.TenantID, p.Code, p.Name, p.Description, p.Type,
		string(p.DiscountType), p.DiscountValue, p.MaxDiscountAmount, p.MinOrderAmount,
		tiers, p.BuyQuantity, p.GetQuantity, p.GetPercent, rulesParam(p.EligibilityRules),
		string(p.TargetType), nonNil(p.TargetIDs), p.UsageLimit, p.UsagePerCustomer, p.UsageCount,
		p.StartDate, p.EndDate, p.Priority, p.Stackable, nonNil(p.StackableWith), string(p.Status),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(promotion.ErrDuplicateCode, "promotion code %q", p.Code)
		}
		return fmt.Errorf("creating promotion %q: %w", p.ID, err)
	}
	return nil
}

// UpdatePromotion rewrites every mutable column of p.
func (r *PromotionRepository) UpdatePromotion(ctx context.Context, p *promotion.Promotion) error {
	tiers, err := marshalTiers(p.Tiers)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, updatePromotionSQL,
		p.ID, p.Code, p.Name, p.Description, p.Type,
		string(p.DiscountType), p.DiscountValue, p.MaxDiscountAmount, p.MinOrderAmount,
		tiers, p.BuyQuantity, p.GetQuantity, p.GetPercent, rulesParam(p.EligibilityRules),
		string(p.TargetType), nonNil(p.TargetIDs), p.UsageLimit, p.UsagePerCustomer,
		p.StartDate, p.EndDate, p.Priority, p.Stackable, nonNil(p.StackableWith),
		string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(promotion.ErrDuplicateCode, "promotion code %q", p.Code)
		}
		return fmt.Errorf("updating promotion %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrPromotionNotFound
	}
	return nil
}

// DeletePromotion removes a promotion and, by cascade, its coupons.
func (r *PromotionRepository) DeletePromotion(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrPromotionNotFound
	}
	return nil
}

// HasUsage reports whether the promotion was ever applied.
func (r *PromotionRepository) HasUsage(ctx context.Context, promotionID string) (bool, error) {
	var used bool
	if err := r.db.QueryRow(ctx, hasUsageSQL, promotionID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking usage of promotion %q: %w", promotionID, err)
	}
	return used, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		targetType   string
		status       string
		tiers        []byte
		rules        []byte
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Description, &p.Type,
		&discountType, &p.DiscountValue, &p.MaxDiscountAmount, &p.MinOrderAmount,
		&tiers, &p.BuyQuantity, &p.GetQuantity, &p.GetPercent, &rules,
		&targetType, &p.TargetIDs, &p.UsageLimit, &p.UsagePerCustomer, &p.UsageCount,
		&p.StartDate, &p.EndDate, &p.Priority, &p.Stackable, &p.StackableWith, &status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.DiscountType = promotion.DiscountType(discountType)
	p.TargetType = promotion.TargetType(targetType)
	p.Status = promotion.Status(status)
	if len(rules) > 0 {
		p.EligibilityRules = rules
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
			return p, fmt.Errorf("decoding tiers of promotion %q: %w", p.ID, err)
		}
	}
	return p, nil
}

func marshalTiers(tiers []promotion.Tier) ([]byte, error) {
	if len(tiers) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(tiers)
	if err != nil {
		return nil, fmt.Errorf("encoding tiers: %w", err)
	}
	return b, nil
}

// rulesParam maps an empty rule tree to SQL NULL.
func rulesParam(rules []byte) any {
	if len(rules) == 0 {
		return nil
	}
	return string(rules)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
