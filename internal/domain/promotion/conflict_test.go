package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func result(id, amount string, priority int) Result {
	return Result{
		PromotionID:    id,
		PromotionCode:  "CODE-" + id,
		DiscountAmount: d(amount),
		DiscountType:   DiscountFixedAmount,
		Priority:       priority,
		Stackable:      true,
	}
}

func exclusive(strategy Strategy, ids ...string) ConflictRule {
	return ConflictRule{
		ID:           "rule-" + string(strategy),
		Type:         ConflictMutuallyExclusive,
		PromotionIDs: ids,
		Strategy:     strategy,
		Active:       true,
	}
}

func rejectedReasons(res Resolution) map[string]string {
	out := make(map[string]string, len(res.Rejected))
	for _, r := range res.Rejected {
		out[r.PromotionID] = r.Reason.Code
	}
	return out
}

// --- Tests ---

func TestResolveConflicts_NoRulesStacksEverything(t *testing.T) {
	res := ResolveConflicts([]Result{
		result("p1", "10", 1),
		result("p2", "5", 2),
	}, nil, d("100"))

	assert.Equal(t, []string{"p1", "p2"}, res.SelectedIDs())
	assert.Empty(t, res.Rejected)
	assert.True(t, d("15").Equal(res.TotalDiscount))
	assert.Empty(t, res.Strategy)
}

func TestResolveConflicts_MutuallyExclusiveHighestDiscount(t *testing.T) {
	res := ResolveConflicts([]Result{
		result("p1", "15.00", 1),
		result("p2", "25.00", 1),
	}, []ConflictRule{exclusive(StrategyHighestDiscount, "p1", "p2")}, d("200"))

	assert.Equal(t, []string{"p2"}, res.SelectedIDs())
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "p1", res.Rejected[0].PromotionID)
	assert.Equal(t, ReasonMutuallyExclusive, res.Rejected[0].Reason.Code)
	assert.Contains(t, res.Rejected[0].Reason.Message, "CODE-p2")
	assert.True(t, d("25.00").Equal(res.TotalDiscount))
	assert.Equal(t, StrategyHighestDiscount, res.Strategy)
}

func TestResolveConflicts_HighestDiscountTieBreaks(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string
	}{
		{
			name:    "priority breaks equal discounts",
			results: []Result{result("a", "10", 1), result("b", "10", 5)},
			want:    "b",
		},
		{
			name:    "id breaks equal discount and priority",
			results: []Result{result("z", "10", 1), result("m", "10", 1), result("q", "10", 1)},
			want:    "m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, len(tt.results))
			for i, r := range tt.results {
				ids[i] = r.PromotionID
			}
			rules := []ConflictRule{exclusive(StrategyHighestDiscount, ids...)}

			for range 20 {
				res := ResolveConflicts(tt.results, rules, d("1000"))
				require.Equal(t, []string{tt.want}, res.SelectedIDs())
			}
		})
	}
}

func TestResolveConflicts_Strategies(t *testing.T) {
	results := []Result{
		result("p1", "30", 1),
		result("p2", "10", 9),
		result("p3", "20", 5),
	}

	tests := []struct {
		name string
		rule ConflictRule
		want string
	}{
		{name: "highest priority", rule: exclusive(StrategyHighestPriority, "p1", "p2", "p3"), want: "p2"},
		{name: "first eligible follows input order", rule: exclusive(StrategyFirstEligible, "p3", "p2", "p1"), want: "p1"},
		{
			name: "custom preferred order",
			rule: func() ConflictRule {
				r := exclusive(StrategyCustomRules, "p1", "p2", "p3")
				r.Rules.PreferredOrder = []string{"p3", "p1"}
				return r
			}(),
			want: "p3",
		},
		{
			name: "custom falls back to highest discount",
			rule: func() ConflictRule {
				r := exclusive(StrategyCustomRules, "p1", "p2", "p3")
				r.Rules.PreferredOrder = []string{"p-unknown"}
				return r
			}(),
			want: "p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveConflicts(results, []ConflictRule{tt.rule}, d("1000"))
			assert.Equal(t, []string{tt.want}, res.SelectedIDs())
			assert.Len(t, res.Rejected, 2)
		})
	}
}

func TestResolveConflicts_StackLimit(t *testing.T) {
	results := []Result{
		result("p1", "5", 1),
		result("p2", "5", 3),
		result("p3", "5", 2),
		result("p4", "5", 0),
	}
	rule := ConflictRule{
		ID:           "limit",
		Type:         ConflictStackLimit,
		PromotionIDs: []string{"p1", "p2", "p3"},
		Strategy:     StrategyHighestDiscount,
		Rules:        ResolutionRules{MaxStack: 2},
		Active:       true,
	}

	res := ResolveConflicts(results, []ConflictRule{rule}, d("100"))

	assert.Equal(t, []string{"p2", "p3", "p4"}, res.SelectedIDs())
	assert.Equal(t, map[string]string{"p1": ReasonStackLimit}, rejectedReasons(res))
	assert.Equal(t, "stack limit exceeded", res.Rejected[0].Reason.Message)
}

func TestResolveConflicts_PriorityOnly(t *testing.T) {
	results := []Result{
		result("p1", "50", 1),
		result("p2", "10", 7),
		result("p3", "20", 7),
	}
	rule := ConflictRule{
		ID:           "prio",
		Type:         ConflictPriorityOnly,
		PromotionIDs: []string{"p1", "p2", "p3"},
		Strategy:     StrategyHighestDiscount,
		Active:       true,
	}

	res := ResolveConflicts(results, []ConflictRule{rule}, d("100"))

	assert.Equal(t, []string{"p3"}, res.SelectedIDs())
	assert.Equal(t, map[string]string{"p1": ReasonPriorityOnly, "p2": ReasonPriorityOnly}, rejectedReasons(res))
}

func TestResolveConflicts_InactiveRuleIgnored(t *testing.T) {
	rule := exclusive(StrategyHighestDiscount, "p1", "p2")
	rule.Active = false

	res := ResolveConflicts([]Result{result("p1", "1", 0), result("p2", "2", 0)}, []ConflictRule{rule}, d("10"))
	assert.Equal(t, []string{"p1", "p2"}, res.SelectedIDs())
}

func TestResolveConflicts_MultipleRulesApplyInPriorityOrder(t *testing.T) {
	results := []Result{
		result("p1", "30", 1),
		result("p2", "20", 1),
		result("p3", "10", 1),
	}
	first := exclusive(StrategyHighestDiscount, "p1", "p2")
	first.ID, first.Priority = "first", 10
	second := exclusive(StrategyFirstEligible, "p2", "p3")
	second.ID, second.Priority = "second", 1

	res := ResolveConflicts(results, []ConflictRule{second, first}, d("100"))

	// p2 loses to p1 first, so the second rule has a single alive candidate
	// and p3 survives.
	assert.Equal(t, []string{"p1", "p3"}, res.SelectedIDs())
	assert.Equal(t, map[string]string{"p2": ReasonMutuallyExclusive}, rejectedReasons(res))
}

func TestResolveConflicts_ImplicitNonStackable(t *testing.T) {
	t.Run("sole eligible survives", func(t *testing.T) {
		r := result("p1", "10", 0)
		r.Stackable = false
		res := ResolveConflicts([]Result{r}, nil, d("100"))
		assert.Equal(t, []string{"p1"}, res.SelectedIDs())
	})

	t.Run("loses to a larger discount", func(t *testing.T) {
		solo := result("solo", "10", 0)
		solo.Stackable = false
		res := ResolveConflicts([]Result{solo, result("a", "12", 0), result("b", "3", 0)}, nil, d("100"))

		assert.Equal(t, []string{"a", "b"}, res.SelectedIDs())
		assert.Equal(t, map[string]string{"solo": ReasonNotStackable}, rejectedReasons(res))
		assert.Equal(t, StrategyHighestDiscount, res.Strategy)
	})

	t.Run("wins and pushes out the rest", func(t *testing.T) {
		solo := result("solo", "40", 0)
		solo.Stackable = false
		res := ResolveConflicts([]Result{result("a", "12", 0), solo, result("b", "3", 0)}, nil, d("100"))

		assert.Equal(t, []string{"solo"}, res.SelectedIDs())
		assert.Equal(t, map[string]string{"a": ReasonNotStackable, "b": ReasonNotStackable}, rejectedReasons(res))
		assert.Contains(t, res.Rejected[0].Reason.Message, "CODE-solo")
	})

	t.Run("stackable-with allow list by id and type", func(t *testing.T) {
		solo := result("solo", "40", 0)
		solo.Stackable = false
		solo.StackableWith = []string{"a", "SHIPPING"}
		ship := result("ship", "5", 0)
		ship.Type = "SHIPPING"
		res := ResolveConflicts([]Result{solo, result("a", "12", 0), ship, result("b", "3", 0)}, nil, d("100"))

		assert.Equal(t, []string{"solo", "a", "ship"}, res.SelectedIDs())
		assert.Equal(t, map[string]string{"b": ReasonNotStackable}, rejectedReasons(res))
	})
}

func TestResolveConflicts_SubtotalCapDropsLowestPriority(t *testing.T) {
	results := []Result{
		result("high", "60", 10),
		result("mid", "30", 5),
		result("low", "20", 1),
	}

	res := ResolveConflicts(results, nil, d("80"))

	assert.Equal(t, []string{"high"}, res.SelectedIDs())
	assert.Equal(t, map[string]string{"mid": ReasonSubtotalCap, "low": ReasonSubtotalCap}, rejectedReasons(res))
	assert.True(t, res.TotalDiscount.LessThanOrEqual(d("80")))
	assert.True(t, d("60").Equal(res.TotalDiscount))
}

func TestResolveConflicts_SubtotalCapStopsOnceWithinBound(t *testing.T) {
	results := []Result{
		result("high", "50", 10),
		result("mid", "30", 5),
		result("low", "25", 1),
	}

	res := ResolveConflicts(results, nil, d("90"))

	assert.Equal(t, []string{"high", "mid"}, res.SelectedIDs())
	assert.Equal(t, map[string]string{"low": ReasonSubtotalCap}, rejectedReasons(res))
	assert.True(t, d("80").Equal(res.TotalDiscount))
}

func TestResolveConflicts_DuplicateSubmission(t *testing.T) {
	res := ResolveConflicts([]Result{result("p1", "5", 0), result("p1", "5", 0)}, nil, d("100"))

	assert.Equal(t, []string{"p1"}, res.SelectedIDs())
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonDuplicate, res.Rejected[0].Reason.Code)
}

func TestResolveConflicts_EveryRejectionHasReason(t *testing.T) {
	solo := result("solo", "1", 0)
	solo.Stackable = false
	results := []Result{
		result("p1", "15", 1), result("p2", "25", 1), result("p3", "5", 3),
		result("p4", "5", 2), result("p5", "70", 0), solo,
	}
	rules := []ConflictRule{
		exclusive(StrategyHighestDiscount, "p1", "p2"),
		{ID: "lim", Type: ConflictStackLimit, PromotionIDs: []string{"p3", "p4"}, Strategy: StrategyHighestDiscount, Rules: ResolutionRules{MaxStack: 1}, Active: true},
	}

	res := ResolveConflicts(results, rules, d("90"))

	assert.Equal(t, len(results), len(res.Selected)+len(res.Rejected))
	for _, r := range res.Rejected {
		assert.NotEmpty(t, r.Reason.Code, r.PromotionID)
		assert.NotEmpty(t, r.Reason.Message, r.PromotionID)
	}
	assert.True(t, res.TotalDiscount.LessThanOrEqual(d("90")))
}
