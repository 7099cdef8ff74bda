// Package rule implements the eligibility rule language attached to
// promotions.
//
// A rule tree is stored as JSON in the JSON-logic shape and parsed once into
// a closed set of node types. Evaluation is pure and three-valued: a missing
// fact or a type mismatch makes a leaf unknown, and unknown collapses to false
// at the root, so malformed configuration never grants a discount.
package rule

import "fmt"

// Node is a parsed rule. The set of implementations is closed.
type Node interface {
	node()
}

// All is satisfied when every child is satisfied.
type All struct {
	Rules []Node
}

// Any is satisfied when at least one child is satisfied.
type Any struct {
	Rules []Node
}

// Not negates its child.
type Not struct {
	Rule Node
}

// Const is a literal true/false rule.
type Const struct {
	Value bool
}

// Compare applies an ordering or equality operator to two operands.
type Compare struct {
	Op    Op
	Left  Operand
	Right Operand
}

// In is satisfied when Needle is an element of List (or a substring of it).
type In struct {
	Needle Operand
	List   Operand
}

// Contains is satisfied when List holds Needle (or contains it as a substring).
type Contains struct {
	List   Operand
	Needle Operand
}

// Weighted scales a child's contribution to the partial-match score.
type Weighted struct {
	Weight float64
	Rule   Node
}

func (All) node()      {}
func (Any) node()      {}
func (Not) node()      {}
func (Const) node()    {}
func (Compare) node()  {}
func (In) node()       {}
func (Contains) node() {}
func (Weighted) node() {}

// Op is a comparison operator.
type Op uint8

const (
	OpEq Op = iota + 1
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

var opSymbols = map[Op]string{
	OpEq: "==",
	OpNe: "!=",
	OpGt: ">",
	OpGe: ">=",
	OpLt: "<",
	OpLe: "<=",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Operand is either a fact reference or a literal.
type Operand interface {
	operand()
}

// Var references a fact by dotted path, e.g. "order.amount".
type Var struct {
	Path string
}

// Lit is a literal value.
type Lit struct {
	Value Value
}

func (Var) operand() {}
func (Lit) operand() {}

// Facts resolves fact paths to values.
type Facts interface {
	Lookup(path string) (Value, bool)
}

// MapFacts is a Facts backed by a map.
type MapFacts map[string]Value

// Lookup implements Facts.
func (m MapFacts) Lookup(path string) (Value, bool) {
	v, ok := m[path]
	return v, ok
}

// InvalidRuleError reports a malformed rule tree.
type InvalidRuleError struct {
	Op     string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("invalid rule: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule %q: %s", e.Op, e.Reason)
}
