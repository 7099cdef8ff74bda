package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/outbox"
)

const (
	countCustomerUsageSQL = `SELECT COALESCE(
		(SELECT usage_count FROM customer_promotion_usage WHERE promotion_id = $1 AND customer_id = $2), 0)`

	insertUsageSQL = `INSERT INTO promotion_usage (id, tenant_id, promotion_id, coupon_id, order_id,
			customer_id, discount_amount, original_amount, final_amount, applied_items, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
		ON CONFLICT (promotion_id, order_id) DO NOTHING`

	incrementPromotionUsageSQL = `UPDATE promotions SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	incrementCustomerUsageSQL = `INSERT INTO customer_promotion_usage (promotion_id, customer_id, usage_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (promotion_id, customer_id) DO UPDATE
		SET usage_count = customer_promotion_usage.usage_count + 1
		WHERE $3::bigint IS NULL OR customer_promotion_usage.usage_count < $3::bigint`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	insertOutboxSQL = `INSERT INTO outbox (event_type, event_key, payload) VALUES ($1, $2, $3)`

	getOrderUsageSQL = `SELECT id, tenant_id, promotion_id, COALESCE(coupon_id, ''), order_id,
			COALESCE(customer_id, ''), discount_amount, original_amount, final_amount,
			applied_items, metadata, created_at
		FROM promotion_usage
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at, id`
)

// CountCustomerUsage returns how many times the customer used the promotion.
func (r *PromotionRepository) CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, countCustomerUsageSQL, promotionID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of promotion %q: %w", promotionID, err)
	}
	return n, nil
}

// GetOrderUsage returns the usage rows committed for an order.
func (r *PromotionRepository) GetOrderUsage(ctx context.Context, tenantID, orderID string) ([]promotion.Usage, error) {
	rows, err := r.db.Query(ctx, getOrderUsageSQL, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying usage of order %q: %w", orderID, err)
	}
	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("scanning usage of order %q: %w", orderID, err)
	}
	return usages, nil
}

func scanUsage(row pgx.CollectableRow) (promotion.Usage, error) {
	var (
		u    promotion.Usage
		meta []byte
	)
	err := row.Scan(
		&u.ID, &u.TenantID, &u.PromotionID, &u.CouponID, &u.OrderID,
		&u.CustomerID, &u.DiscountAmount, &u.OriginalAmount, &u.FinalAmount,
		&u.AppliedItems, &meta, &u.CreatedAt,
	)
	if err != nil {
		return u, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return u, fmt.Errorf("decoding metadata of usage %q: %w", u.ID, err)
		}
	}
	return u, nil
}

// CommitUsage records every commit in one transaction: the audit row, the
// conditional counter increments and an outbox event. The first refused
// increment rolls everything back and returns *promotion.LimitExceededError.
// An audit row that already exists for (promotion, order) yields
// promotion.ErrAlreadyApplied.
func (r *PromotionRepository) CommitUsage(ctx context.Context, commits []promotion.UsageCommit) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning usage transaction: %w", err)
	}
	defer rollback(ctx, tx)

	for _, c := range commits {
		if err := commitOne(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage: %w", err)
	}
	return nil
}

func commitOne(ctx context.Context, tx pgx.Tx, c promotion.UsageCommit) error {
	u := c.Usage

	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("encoding usage metadata: %w", err)
	}
	tag, err := tx.Exec(ctx, insertUsageSQL,
		u.ID, u.TenantID, u.PromotionID, u.CouponID, u.OrderID,
		u.CustomerID, u.DiscountAmount, u.OriginalAmount, u.FinalAmount,
		nonNil(u.AppliedItems), meta, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording usage of promotion %q: %w", u.PromotionID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(promotion.ErrAlreadyApplied, "promotion %s, order %s", u.PromotionID, u.OrderID)
	}

	tag, err = tx.Exec(ctx, incrementPromotionUsageSQL, u.PromotionID)
	if err != nil {
		return fmt.Errorf("incrementing usage of promotion %q: %w", u.PromotionID, err)
	}
	if tag.RowsAffected() == 0 {
		return &promotion.LimitExceededError{PromotionID: u.PromotionID, Scope: promotion.ScopeGlobal}
	}

	if u.CustomerID != "" {
		tag, err = tx.Exec(ctx, incrementCustomerUsageSQL, u.PromotionID, u.CustomerID, c.PerCustomerLimit)
		if err != nil {
			return fmt.Errorf("incrementing customer usage of promotion %q: %w", u.PromotionID, err)
		}
		if tag.RowsAffected() == 0 {
			return &promotion.LimitExceededError{PromotionID: u.PromotionID, Scope: promotion.ScopeCustomer}
		}
	}

	if u.CouponID != "" {
		tag, err = tx.Exec(ctx, incrementCouponUsageSQL, u.CouponID)
		if err != nil {
			return fmt.Errorf("incrementing usage of coupon %q: %w", u.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			return &promotion.LimitExceededError{PromotionID: u.PromotionID, Scope: promotion.ScopeCoupon}
		}
	}

	if _, err := tx.Exec(ctx, insertOutboxSQL, outbox.EventPromotionApplied, u.OrderID, appliedEvent(u)); err != nil {
		return fmt.Errorf("enqueueing usage event: %w", err)
	}
	return nil
}

// appliedEvent encodes the promotion.applied payload.
func appliedEvent(u promotion.Usage) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("usageId", func(e *jx.Encoder) { e.Str(u.ID) })
		e.Field("tenantId", func(e *jx.Encoder) { e.Str(u.TenantID) })
		e.Field("promotionId", func(e *jx.Encoder) { e.Str(u.PromotionID) })
		if u.CouponID != "" {
			e.Field("couponId", func(e *jx.Encoder) { e.Str(u.CouponID) })
		}
		e.Field("orderId", func(e *jx.Encoder) { e.Str(u.OrderID) })
		if u.CustomerID != "" {
			e.Field("customerId", func(e *jx.Encoder) { e.Str(u.CustomerID) })
		}
		e.Field("discountAmount", func(e *jx.Encoder) { e.Str(u.DiscountAmount.StringFixed(2)) })
		e.Field("originalAmount", func(e *jx.Encoder) { e.Str(u.OriginalAmount.StringFixed(2)) })
		e.Field("finalAmount", func(e *jx.Encoder) { e.Str(u.FinalAmount.StringFixed(2)) })
		e.Field("appliedAt", func(e *jx.Encoder) { e.Str(u.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")) })
	})
	return append([]byte(nil), e.Bytes()...)
}
