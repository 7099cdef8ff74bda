package promotion

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// ReasonDuplicate marks a promotion submitted more than once.
const ReasonDuplicate = "duplicate"

// Result is a promotion that passed eligibility, with its computed discount.
type Result struct {
	PromotionID    string
	PromotionCode  string
	CouponID       string
	CouponCode     string
	DiscountAmount decimal.Decimal
	DiscountType   DiscountType
	AppliedItems   []string
	Score          float64
	Priority       int
	Stackable      bool
	StackableWith  []string
	Type           string
	Metadata       map[string]string
}

func (r Result) label() string {
	switch {
	case r.CouponCode != "":
		return r.CouponCode
	case r.PromotionCode != "":
		return r.PromotionCode
	}
	return r.PromotionID
}

// Rejection explains why a candidate was not applied.
type Rejection struct {
	PromotionID string
	// Code is the coupon or promotion code the caller submitted, if any.
	Code   string
	Reason Reason
}

// Resolution is the final set of promotions that apply together.
type Resolution struct {
	Selected      []Result
	Rejected      []Rejection
	TotalDiscount decimal.Decimal
	Subtotal      decimal.Decimal
	// Strategy is the strategy of the first conflict rule that decided
	// anything, HIGHEST_DISCOUNT when only implicit stacking conflicts were
	// resolved, and empty when everything stacked.
	Strategy Strategy
	// Replayed is set when the order was already applied and the resolution
	// was read back from its committed usage.
	Replayed bool
}

// SelectedIDs returns the ids of the selected promotions in input order.
func (r *Resolution) SelectedIDs() []string {
	ids := make([]string, len(r.Selected))
	for i, s := range r.Selected {
		ids[i] = s.PromotionID
	}
	return ids
}

// ResolveConflicts picks the subset of results that may apply together.
// Active rules are applied in priority order, each over the candidates still
// alive; implicit non-stackable conflicts are resolved afterwards and the
// total is capped at subtotal by dropping the lowest-priority selections.
// Selected and Rejected preserve the input order of results.
//
// The function is pure and deterministic.
func ResolveConflicts(results []Result, rules []ConflictRule, subtotal decimal.Decimal) Resolution {
	r := newResolver(results)

	var strategy Strategy
	for _, cr := range activeRules(rules) {
		group := r.group(cr)
		if len(group) < 2 {
			continue
		}
		if strategy == "" {
			strategy = cr.Strategy
		}
		r.apply(cr, group)
	}

	selected, implicit := r.stack()
	if strategy == "" && implicit {
		strategy = StrategyHighestDiscount
	}
	selected = r.capAt(selected, subtotal)

	slices.SortFunc(selected, func(a, b Result) int {
		return cmp.Compare(r.order[a.PromotionID], r.order[b.PromotionID])
	})
	total := zero
	for _, s := range selected {
		total = total.Add(s.DiscountAmount)
	}

	return Resolution{
		Selected:      selected,
		Rejected:      r.rejections(),
		TotalDiscount: total,
		Subtotal:      subtotal,
		Strategy:      strategy,
	}
}

type resolver struct {
	results  []Result
	order    map[string]int
	alive    map[string]bool
	rejected map[int]Reason
}

func newResolver(results []Result) *resolver {
	r := &resolver{
		results:  results,
		order:    make(map[string]int, len(results)),
		alive:    make(map[string]bool, len(results)),
		rejected: make(map[int]Reason),
	}
	for i, res := range results {
		if _, dup := r.order[res.PromotionID]; dup {
			r.rejected[i] = Reason{Code: ReasonDuplicate, Message: "promotion was submitted more than once"}
			continue
		}
		r.order[res.PromotionID] = i
		r.alive[res.PromotionID] = true
	}
	return r
}

func activeRules(rules []ConflictRule) []ConflictRule {
	var out []ConflictRule
	for _, cr := range rules {
		if cr.Active {
			out = append(out, cr)
		}
	}
	slices.SortStableFunc(out, func(a, b ConflictRule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// group returns the alive candidates governed by cr, in input order.
func (r *resolver) group(cr ConflictRule) []Result {
	var out []Result
	for id := range r.alive {
		if slices.Contains(cr.PromotionIDs, id) {
			out = append(out, r.results[r.order[id]])
		}
	}
	slices.SortFunc(out, func(a, b Result) int {
		return cmp.Compare(r.order[a.PromotionID], r.order[b.PromotionID])
	})
	return out
}

func (r *resolver) reject(res Result, why Reason) {
	delete(r.alive, res.PromotionID)
	r.rejected[r.order[res.PromotionID]] = why
}

func (r *resolver) apply(cr ConflictRule, group []Result) {
	byStrategy := r.comparator(cr)

	switch cr.Type {
	case ConflictMutuallyExclusive:
		slices.SortStableFunc(group, byStrategy)
		winner := group[0]
		for _, res := range group[1:] {
			r.reject(res, Reason{
				Code:    ReasonMutuallyExclusive,
				Message: "cannot combine with " + winner.label(),
			})
		}
	case ConflictStackLimit:
		slices.SortStableFunc(group, thenBy(byPriority, byStrategy))
		limit := max(cr.Rules.MaxStack, 1)
		for _, res := range group[min(limit, len(group)):] {
			r.reject(res, Reason{Code: ReasonStackLimit, Message: "stack limit exceeded"})
		}
	case ConflictPriorityOnly:
		slices.SortStableFunc(group, thenBy(byPriority, byStrategy))
		winner := group[0]
		for _, res := range group[1:] {
			r.reject(res, Reason{
				Code:    ReasonPriorityOnly,
				Message: "only the highest-priority promotion applies: " + winner.label(),
			})
		}
	}
}

// stack admits survivors in HIGHEST_DISCOUNT order, rejecting any that is
// incompatible with an already admitted promotion. It reports whether any
// implicit conflict was resolved.
func (r *resolver) stack() ([]Result, bool) {
	survivors := make([]Result, 0, len(r.alive))
	for id := range r.alive {
		survivors = append(survivors, r.results[r.order[id]])
	}
	slices.SortStableFunc(survivors, byHighestDiscount)

	var (
		selected []Result
		implicit bool
	)
	for _, cand := range survivors {
		idx := slices.IndexFunc(selected, func(s Result) bool { return !compatible(cand, s) })
		if idx < 0 {
			selected = append(selected, cand)
			continue
		}
		implicit = true
		r.reject(cand, Reason{
			Code:    ReasonNotStackable,
			Message: "cannot combine with " + selected[idx].label(),
		})
	}
	return selected, implicit
}

// capAt drops the lowest-priority selections until the total fits subtotal.
func (r *resolver) capAt(selected []Result, subtotal decimal.Decimal) []Result {
	total := zero
	for _, s := range selected {
		total = total.Add(s.DiscountAmount)
	}
	if total.LessThanOrEqual(subtotal) {
		return selected
	}

	byLowest := slices.Clone(selected)
	slices.SortStableFunc(byLowest, func(a, b Result) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := a.DiscountAmount.Cmp(b.DiscountAmount); c != 0 {
			return c
		}
		return strings.Compare(b.PromotionID, a.PromotionID)
	})

	dropped := make(map[string]bool)
	for _, res := range byLowest {
		if total.LessThanOrEqual(subtotal) {
			break
		}
		total = total.Sub(res.DiscountAmount)
		dropped[res.PromotionID] = true
		r.reject(res, Reason{Code: ReasonSubtotalCap, Message: "combined discounts cannot exceed the order subtotal"})
	}
	return slices.DeleteFunc(selected, func(s Result) bool { return dropped[s.PromotionID] })
}

func (r *resolver) rejections() []Rejection {
	idx := make([]int, 0, len(r.rejected))
	for i := range r.rejected {
		idx = append(idx, i)
	}
	slices.Sort(idx)

	out := make([]Rejection, len(idx))
	for k, i := range idx {
		res := r.results[i]
		code := res.CouponCode
		if code == "" {
			code = res.PromotionCode
		}
		out[k] = Rejection{PromotionID: res.PromotionID, Code: code, Reason: r.rejected[i]}
	}
	return out
}

func (r *resolver) comparator(cr ConflictRule) func(a, b Result) int {
	switch cr.Strategy {
	case StrategyHighestPriority:
		return byHighestPriority
	case StrategyFirstEligible:
		return func(a, b Result) int {
			return cmp.Compare(r.order[a.PromotionID], r.order[b.PromotionID])
		}
	case StrategyCustomRules:
		rank := func(id string) int {
			if i := slices.Index(cr.Rules.PreferredOrder, id); i >= 0 {
				return i
			}
			return len(cr.Rules.PreferredOrder)
		}
		return thenBy(func(a, b Result) int {
			return cmp.Compare(rank(a.PromotionID), rank(b.PromotionID))
		}, byHighestDiscount)
	default:
		return byHighestDiscount
	}
}

// byHighestDiscount orders by discount desc, priority desc, id asc.
func byHighestDiscount(a, b Result) int {
	if c := b.DiscountAmount.Cmp(a.DiscountAmount); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return strings.Compare(a.PromotionID, b.PromotionID)
}

// byHighestPriority orders by priority desc, discount desc, score desc, id asc.
func byHighestPriority(a, b Result) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := b.DiscountAmount.Cmp(a.DiscountAmount); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return strings.Compare(a.PromotionID, b.PromotionID)
}

func byPriority(a, b Result) int {
	return cmp.Compare(b.Priority, a.Priority)
}

func thenBy(first, second func(a, b Result) int) func(a, b Result) int {
	return func(a, b Result) int {
		if c := first(a, b); c != 0 {
			return c
		}
		return second(a, b)
	}
}

func compatible(a, b Result) bool {
	return allows(a, b) && allows(b, a)
}

func allows(a, b Result) bool {
	if a.Stackable {
		return true
	}
	if slices.Contains(a.StackableWith, b.PromotionID) {
		return true
	}
	return b.Type != "" && slices.Contains(a.StackableWith, b.Type)
}
