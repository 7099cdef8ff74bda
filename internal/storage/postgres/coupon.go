package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const couponColumns = `id, tenant_id, promotion_id, code, COALESCE(assigned_to, ''),
		usage_limit, usage_count, start_date, end_date, status, created_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND code = $2`

	getCouponsByCustomerSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE tenant_id = $1 AND assigned_to = $2
		ORDER BY end_date, code`

	createCouponSQL = `INSERT INTO coupons (id, tenant_id, promotion_id, code, assigned_to,
			usage_limit, usage_count, start_date, end_date, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`
)

// GetCouponByCode looks up the tenant's coupon by its normalized code.
// Returns promotion.ErrCouponNotFound when no coupon matches.
func (r *PromotionRepository) GetCouponByCode(ctx context.Context, tenantID, code string) (*promotion.Coupon, error) {
	rows, err := r.db.Query(ctx, getCouponByCodeSQL, tenantID, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// GetCouponsByCustomer returns every coupon assigned to the customer.
func (r *PromotionRepository) GetCouponsByCustomer(ctx context.Context, tenantID, customerID string) ([]promotion.Coupon, error) {
	rows, err := r.db.Query(ctx, getCouponsByCustomerSQL, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of customer %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// CreateCoupon inserts c. A taken (tenant, code) pair yields
// promotion.ErrDuplicateCode.
func (r *PromotionRepository) CreateCoupon(ctx context.Context, c *promotion.Coupon) error {
	_, err := r.db.Exec(ctx, createCouponSQL,
		c.ID, c.TenantID, c.PromotionID, c.Code, c.AssignedTo,
		c.UsageLimit, c.UsageCount, c.StartDate, c.EndDate, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(promotion.ErrDuplicateCode, "coupon code %q", c.Code)
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (promotion.Coupon, error) {
	var (
		c      promotion.Coupon
		status string
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.PromotionID, &c.Code, &c.AssignedTo,
		&c.UsageLimit, &c.UsageCount, &c.StartDate, &c.EndDate, &status, &c.CreatedAt,
	)
	c.Status = promotion.Status(status)
	return c, err
}
