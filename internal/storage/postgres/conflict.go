package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const conflictRuleColumns = `id, tenant_id, name, conflict_type, promotion_ids,
		resolution_strategy, resolution_rules, priority, active, created_at`

const (
	createConflictRuleSQL = `INSERT INTO conflict_rules (` + conflictRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listConflictRulesSQL = `SELECT ` + conflictRuleColumns + ` FROM conflict_rules
		WHERE tenant_id = $1
		ORDER BY priority DESC, id`

	getConflictRulesForPromotionsSQL = `SELECT ` + conflictRuleColumns + ` FROM conflict_rules
		WHERE active AND promotion_ids && $1::text[]
		ORDER BY priority DESC, id`
)

// CreateConflictRule inserts cr.
func (r *PromotionRepository) CreateConflictRule(ctx context.Context, cr *promotion.ConflictRule) error {
	rules, err := json.Marshal(cr.Rules)
	if err != nil {
		return fmt.Errorf("encoding resolution rules: %w", err)
	}

	_, err = r.db.Exec(ctx, createConflictRuleSQL,
		cr.ID, cr.TenantID, cr.Name, string(cr.Type), cr.PromotionIDs,
		string(cr.Strategy), rules, cr.Priority, cr.Active, cr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating conflict rule %q: %w", cr.ID, err)
	}
	return nil
}

// ListConflictRules returns every conflict rule of the tenant.
func (r *PromotionRepository) ListConflictRules(ctx context.Context, tenantID string) ([]promotion.ConflictRule, error) {
	rows, err := r.db.Query(ctx, listConflictRulesSQL, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing conflict rules: %w", err)
	}
	return pgx.CollectRows(rows, scanConflictRule)
}

// GetConflictRulesForPromotions returns the active rules that govern at least
// one of ids.
func (r *PromotionRepository) GetConflictRulesForPromotions(ctx context.Context, ids []string) ([]promotion.ConflictRule, error) {
	rows, err := r.db.Query(ctx, getConflictRulesForPromotionsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting conflict rules: %w", err)
	}
	return pgx.CollectRows(rows, scanConflictRule)
}

func scanConflictRule(row pgx.CollectableRow) (promotion.ConflictRule, error) {
	var (
		cr       promotion.ConflictRule
		typ      string
		strategy string
		rules    []byte
	)
	err := row.Scan(
		&cr.ID, &cr.TenantID, &cr.Name, &typ, &cr.PromotionIDs,
		&strategy, &rules, &cr.Priority, &cr.Active, &cr.CreatedAt,
	)
	if err != nil {
		return cr, err
	}
	cr.Type = promotion.ConflictType(typ)
	cr.Strategy = promotion.Strategy(strategy)
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &cr.Rules); err != nil {
			return cr, fmt.Errorf("decoding resolution rules of %q: %w", cr.ID, err)
		}
	}
	return cr, nil
}
