package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// Money is always rendered as a fixed two-decimal string.
func money(e *jx.Encoder, d decimal.Decimal) { e.Str(d.StringFixed(2)) }

func optMoney(e *jx.Encoder, d decimal.NullDecimal) {
	if !d.Valid {
		e.Null()
		return
	}
	money(e, d.Decimal)
}

func timestamp(e *jx.Encoder, t time.Time) { e.Str(t.UTC().Format(time.RFC3339Nano)) }

func optTimestamp(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}

func optInt(e *jx.Encoder, v *int64) {
	if v == nil {
		e.Null()
		return
	}
	e.Int64(*v)
}

func strs(e *jx.Encoder, ss []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range ss {
			e.Str(s)
		}
	})
}

func encodePromotion(e *jx.Encoder, p *promotion.Promotion) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("tenantId", func(e *jx.Encoder) { e.Str(p.TenantID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(p.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("type", func(e *jx.Encoder) { e.Str(p.Type) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(p.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { e.Str(p.DiscountValue.String()) })
		e.Field("maxDiscountAmount", func(e *jx.Encoder) { optMoney(e, p.MaxDiscountAmount) })
		e.Field("minOrderAmount", func(e *jx.Encoder) { optMoney(e, p.MinOrderAmount) })
		if len(p.Tiers) > 0 {
			e.Field("tiers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, t := range p.Tiers {
						e.Obj(func(e *jx.Encoder) {
							e.Field("threshold", func(e *jx.Encoder) { money(e, t.Threshold) })
							e.Field("percent", func(e *jx.Encoder) { e.Str(t.Percent.String()) })
						})
					}
				})
			})
		}
		if p.DiscountType == promotion.DiscountBuyXGetY {
			e.Field("buyQuantity", func(e *jx.Encoder) { e.Int(p.BuyQuantity) })
			e.Field("getQuantity", func(e *jx.Encoder) { e.Int(p.GetQuantity) })
			e.Field("getPercent", func(e *jx.Encoder) {
				if !p.GetPercent.Valid {
					e.Null()
					return
				}
				e.Str(p.GetPercent.Decimal.String())
			})
		}
		e.Field("eligibilityRules", func(e *jx.Encoder) {
			if len(p.EligibilityRules) == 0 {
				e.Null()
				return
			}
			e.Raw(p.EligibilityRules)
		})
		e.Field("targetType", func(e *jx.Encoder) { e.Str(string(p.TargetType)) })
		e.Field("targetIds", func(e *jx.Encoder) { strs(e, p.TargetIDs) })
		e.Field("usageLimit", func(e *jx.Encoder) { optInt(e, p.UsageLimit) })
		e.Field("usagePerCustomer", func(e *jx.Encoder) { optInt(e, p.UsagePerCustomer) })
		e.Field("usageCount", func(e *jx.Encoder) { e.Int64(p.UsageCount) })
		e.Field("startDate", func(e *jx.Encoder) { timestamp(e, p.StartDate) })
		e.Field("endDate", func(e *jx.Encoder) { timestamp(e, p.EndDate) })
		e.Field("priority", func(e *jx.Encoder) { e.Int(p.Priority) })
		e.Field("stackable", func(e *jx.Encoder) { e.Bool(p.Stackable) })
		e.Field("stackableWith", func(e *jx.Encoder) { strs(e, p.StackableWith) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, p.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, p.UpdatedAt) })
	})
}

func encodeCoupon(e *jx.Encoder, c *promotion.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("tenantId", func(e *jx.Encoder) { e.Str(c.TenantID) })
		e.Field("promotionId", func(e *jx.Encoder) { e.Str(c.PromotionID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("assignedTo", func(e *jx.Encoder) {
			if c.AssignedTo == "" {
				e.Null()
				return
			}
			e.Str(c.AssignedTo)
		})
		e.Field("usageLimit", func(e *jx.Encoder) { optInt(e, c.UsageLimit) })
		e.Field("usageCount", func(e *jx.Encoder) { e.Int64(c.UsageCount) })
		e.Field("startDate", func(e *jx.Encoder) { timestamp(e, c.StartDate) })
		e.Field("endDate", func(e *jx.Encoder) { timestamp(e, c.EndDate) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(c.Status)) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
	})
}

func encodeConflictRule(e *jx.Encoder, r *promotion.ConflictRule) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("tenantId", func(e *jx.Encoder) { e.Str(r.TenantID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
		e.Field("conflictType", func(e *jx.Encoder) { e.Str(string(r.Type)) })
		e.Field("promotionIds", func(e *jx.Encoder) { strs(e, r.PromotionIDs) })
		e.Field("resolutionStrategy", func(e *jx.Encoder) { e.Str(string(r.Strategy)) })
		e.Field("resolutionRules", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				if r.Rules.MaxStack > 0 {
					e.Field("maxStack", func(e *jx.Encoder) { e.Int(r.Rules.MaxStack) })
				}
				if len(r.Rules.PreferredOrder) > 0 {
					e.Field("preferredOrder", func(e *jx.Encoder) { strs(e, r.Rules.PreferredOrder) })
				}
			})
		})
		e.Field("priority", func(e *jx.Encoder) { e.Int(r.Priority) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(r.Active) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, r.CreatedAt) })
	})
}

func encodeReason(e *jx.Encoder, r promotion.Reason) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(r.Message) })
	})
}

func encodeEligibility(e *jx.Encoder, res promotion.EligibilityResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("eligible", func(e *jx.Encoder) { e.Bool(res.Eligible) })
		e.Field("score", func(e *jx.Encoder) { e.Float64(res.Score) })
		if res.Reason != nil {
			e.Field("reason", func(e *jx.Encoder) { encodeReason(e, *res.Reason) })
		}
	})
}

func encodeResolution(e *jx.Encoder, res *promotion.Resolution, dryRun bool) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("selectedPromotions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range res.Selected {
					e.Obj(func(e *jx.Encoder) {
						e.Field("promotionId", func(e *jx.Encoder) { e.Str(s.PromotionID) })
						e.Field("promotionCode", func(e *jx.Encoder) { e.Str(s.PromotionCode) })
						if s.CouponCode != "" {
							e.Field("couponCode", func(e *jx.Encoder) { e.Str(s.CouponCode) })
						}
						e.Field("discountType", func(e *jx.Encoder) { e.Str(string(s.DiscountType)) })
						e.Field("discountAmount", func(e *jx.Encoder) { money(e, s.DiscountAmount) })
						e.Field("appliedItems", func(e *jx.Encoder) { strs(e, s.AppliedItems) })
						e.Field("eligibilityScore", func(e *jx.Encoder) { e.Float64(s.Score) })
					})
				}
			})
		})
		e.Field("rejectedPromotions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, r := range res.Rejected {
					e.Obj(func(e *jx.Encoder) {
						e.Field("promotionId", func(e *jx.Encoder) { e.Str(r.PromotionID) })
						if r.Code != "" {
							e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
						}
						e.Field("reason", func(e *jx.Encoder) { encodeReason(e, r.Reason) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, res.Subtotal) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, res.TotalDiscount) })
		e.Field("finalAmount", func(e *jx.Encoder) { money(e, res.Subtotal.Sub(res.TotalDiscount)) })
		e.Field("resolutionStrategy", func(e *jx.Encoder) {
			if res.Strategy == "" {
				e.Null()
				return
			}
			e.Str(string(res.Strategy))
		})
		e.Field("dryRun", func(e *jx.Encoder) { e.Bool(dryRun) })
		e.Field("replayed", func(e *jx.Encoder) { e.Bool(res.Replayed) })
	})
}

func encodePromotionStat(e *jx.Encoder, s *promotion.PromotionStat) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("promotionId", func(e *jx.Encoder) { e.Str(s.PromotionID) })
		if s.Code != "" {
			e.Field("code", func(e *jx.Encoder) { e.Str(s.Code) })
		}
		e.Field("usages", func(e *jx.Encoder) { e.Int64(s.Usages) })
		e.Field("uniqueCustomers", func(e *jx.Encoder) { e.Int64(s.UniqueCustomers) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, s.TotalDiscount) })
		e.Field("averageDiscount", func(e *jx.Encoder) { money(e, s.AverageDiscount) })
		e.Field("firstUsedAt", func(e *jx.Encoder) { optTimestamp(e, s.FirstUsedAt) })
		e.Field("lastUsedAt", func(e *jx.Encoder) { optTimestamp(e, s.LastUsedAt) })
	})
}

func encodeStatistics(e *jx.Encoder, s *promotion.Statistics) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("tenantId", func(e *jx.Encoder) { e.Str(s.TenantID) })
		e.Field("totalPromotions", func(e *jx.Encoder) { e.Int64(s.TotalPromotions) })
		e.Field("activePromotions", func(e *jx.Encoder) { e.Int64(s.ActivePromotions) })
		e.Field("totalUsages", func(e *jx.Encoder) { e.Int64(s.TotalUsages) })
		e.Field("uniqueCustomers", func(e *jx.Encoder) { e.Int64(s.UniqueCustomers) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, s.TotalDiscount) })
		e.Field("totalOriginal", func(e *jx.Encoder) { money(e, s.TotalOriginal) })
		e.Field("topPromotions", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range s.TopPromotions {
					encodePromotionStat(e, &s.TopPromotions[i])
				}
			})
		})
	})
}

// list wraps items as {"data":[...]}.
func list[T any](items []T, encode func(*jx.Encoder, *T)) func(*jx.Encoder) {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("data", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range items {
						encode(e, &items[i])
					}
				})
			})
		})
	}
}
