package rule

import "fmt"

type truth int8

const (
	unknown truth = iota
	falsy
	truthy
)

func fromBool(b bool) truth {
	if b {
		return truthy
	}
	return falsy
}

// Evaluate reports whether facts satisfy n. A nil tree is always satisfied.
// Unknown results (missing facts, type mismatches) evaluate to false.
func Evaluate(n Node, facts Facts) bool {
	if n == nil {
		return true
	}
	return eval(n, facts) == truthy
}

// Score returns the weighted fraction of satisfied top-level conditions in
// [0, 1]. For an All or Any root each child contributes its weight; any other
// root scores 1 when satisfied. A nil tree scores 0.
func Score(n Node, facts Facts) float64 {
	var children []Node
	switch n := n.(type) {
	case nil:
		return 0
	case All:
		children = n.Rules
	case Any:
		children = n.Rules
	case Weighted:
		return Score(n.Rule, facts)
	default:
		if eval(n, facts) == truthy {
			return 1
		}
		return 0
	}

	var total, hit float64
	for _, c := range children {
		w := 1.0
		if wc, ok := c.(Weighted); ok {
			w = wc.Weight
		}
		total += w
		if eval(c, facts) == truthy {
			hit += w
		}
	}
	if total == 0 {
		return 0
	}
	return hit / total
}

func eval(n Node, facts Facts) truth {
	switch n := n.(type) {
	case Const:
		return fromBool(n.Value)
	case All:
		res := truthy
		for _, c := range n.Rules {
			switch eval(c, facts) {
			case falsy:
				return falsy
			case unknown:
				res = unknown
			}
		}
		return res
	case Any:
		res := falsy
		for _, c := range n.Rules {
			switch eval(c, facts) {
			case truthy:
				return truthy
			case unknown:
				res = unknown
			}
		}
		return res
	case Not:
		switch eval(n.Rule, facts) {
		case truthy:
			return falsy
		case falsy:
			return truthy
		}
		return unknown
	case Weighted:
		return eval(n.Rule, facts)
	case Compare:
		return compare(n, facts)
	case In:
		return contains(n.List, n.Needle, facts)
	case Contains:
		return contains(n.List, n.Needle, facts)
	default:
		panic(fmt.Sprintf("rule: unhandled node %T", n))
	}
}

func resolve(o Operand, facts Facts) (Value, bool) {
	switch o := o.(type) {
	case Lit:
		return o.Value, true
	case Var:
		return facts.Lookup(o.Path)
	default:
		panic(fmt.Sprintf("rule: unhandled operand %T", o))
	}
}

func compare(c Compare, facts Facts) truth {
	l, ok := resolve(c.Left, facts)
	if !ok {
		return unknown
	}
	r, ok := resolve(c.Right, facts)
	if !ok {
		return unknown
	}

	switch c.Op {
	case OpEq, OpNe:
		eq, ok := equal(l, r)
		if !ok {
			return unknown
		}
		return fromBool(eq == (c.Op == OpEq))
	}

	ln, lok := l.Num()
	rn, rok := r.Num()
	if !lok || !rok {
		return unknown
	}
	cmp := ln.Cmp(rn)
	switch c.Op {
	case OpGt:
		return fromBool(cmp > 0)
	case OpGe:
		return fromBool(cmp >= 0)
	case OpLt:
		return fromBool(cmp < 0)
	case OpLe:
		return fromBool(cmp <= 0)
	}
	return unknown
}

func contains(list, needle Operand, facts Facts) truth {
	hay, ok := resolve(list, facts)
	if !ok {
		return unknown
	}
	nv, ok := resolve(needle, facts)
	if !ok {
		return unknown
	}
	found, ok := member(hay, nv)
	if !ok {
		return unknown
	}
	return fromBool(found)
}
