package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const topPromotionsLimit = 10

const (
	usageWindow = `($2::timestamptz IS NULL OR u.created_at >= $2) AND ($3::timestamptz IS NULL OR u.created_at <= $3)`

	promotionCountsSQL = `SELECT count(*), count(*) FILTER (WHERE status = 'ACTIVE')
		FROM promotions WHERE tenant_id = $1`

	// original_amount repeats on every row of an order, so it is summed once
	// per order.
	usageTotalsSQL = `WITH w AS (
			SELECT u.* FROM promotion_usage u WHERE u.tenant_id = $1 AND ` + usageWindow + `
		)
		SELECT
			(SELECT count(*) FROM w),
			(SELECT count(DISTINCT customer_id) FROM w),
			(SELECT COALESCE(sum(discount_amount), 0) FROM w),
			(SELECT COALESCE(sum(original_amount), 0) FROM (
				SELECT DISTINCT ON (order_id) original_amount FROM w ORDER BY order_id
			) o)`

	topPromotionsSQL = `SELECT p.id, p.code, count(u.id), count(DISTINCT u.customer_id),
			COALESCE(sum(u.discount_amount), 0), COALESCE(avg(u.discount_amount), 0),
			min(u.created_at), max(u.created_at)
		FROM promotion_usage u JOIN promotions p ON p.id = u.promotion_id
		WHERE u.tenant_id = $1 AND ` + usageWindow + `
		GROUP BY p.id, p.code
		ORDER BY 5 DESC, p.id
		LIMIT $4`

	promotionUsageStatsSQL = `SELECT p.id, p.code, count(u.id), count(DISTINCT u.customer_id),
			COALESCE(sum(u.discount_amount), 0), COALESCE(avg(u.discount_amount), 0),
			min(u.created_at), max(u.created_at)
		FROM promotions p
		LEFT JOIN promotion_usage u ON u.promotion_id = p.id AND ` + usageWindow + `
		WHERE p.id = $1
		GROUP BY p.id, p.code`
)

// PromotionStatistics aggregates the tenant's usage history. Nil bounds are
// open.
func (r *PromotionRepository) PromotionStatistics(ctx context.Context, tenantID string, from, to *time.Time) (*promotion.Statistics, error) {
	st := &promotion.Statistics{TenantID: tenantID}

	err := r.db.QueryRow(ctx, promotionCountsSQL, tenantID).Scan(&st.TotalPromotions, &st.ActivePromotions)
	if err != nil {
		return nil, fmt.Errorf("counting promotions: %w", err)
	}

	err = r.db.QueryRow(ctx, usageTotalsSQL, tenantID, from, to).
		Scan(&st.TotalUsages, &st.UniqueCustomers, &st.TotalDiscount, &st.TotalOriginal)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	rows, err := r.db.Query(ctx, topPromotionsSQL, tenantID, from, to, topPromotionsLimit)
	if err != nil {
		return nil, fmt.Errorf("ranking promotions: %w", err)
	}
	if st.TopPromotions, err = pgx.CollectRows(rows, scanPromotionStat); err != nil {
		return nil, fmt.Errorf("ranking promotions: %w", err)
	}
	return st, nil
}

// PromotionUsageStats aggregates the usage history of one promotion.
func (r *PromotionRepository) PromotionUsageStats(ctx context.Context, promotionID string, from, to *time.Time) (*promotion.PromotionStat, error) {
	rows, err := r.db.Query(ctx, promotionUsageStatsSQL, promotionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage of promotion %q: %w", promotionID, err)
	}

	st, err := pgx.CollectExactlyOneRow(rows, scanPromotionStat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrPromotionNotFound
		}
		return nil, fmt.Errorf("aggregating usage of promotion %q: %w", promotionID, err)
	}
	return &st, nil
}

func scanPromotionStat(row pgx.CollectableRow) (promotion.PromotionStat, error) {
	var s promotion.PromotionStat
	err := row.Scan(
		&s.PromotionID, &s.Code, &s.Usages, &s.UniqueCustomers,
		&s.TotalDiscount, &s.AverageDiscount, &s.FirstUsedAt, &s.LastUsedAt,
	)
	s.AverageDiscount = s.AverageDiscount.Round(2)
	return s, err
}
