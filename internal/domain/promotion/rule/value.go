package rule

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind enumerates the dynamic types a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a fact or literal the evaluator operates on. The zero Value is null.
type Value struct {
	kind Kind
	num  decimal.Decimal
	str  string
	b    bool
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Int wraps an integer as a number.
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps a list of values.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Strings wraps a list of strings.
func Strings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return List(vs...)
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// Num returns the numeric payload and whether v is a number.
func (v Value) Num() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Items returns the list payload and whether v is a list.
func (v Value) Items() ([]Value, bool) { return v.list, v.kind == KindList }

// equal reports equality and whether the comparison was well-typed.
func equal(a, b Value) (eq, ok bool) {
	if a.kind != b.kind {
		return false, false
	}
	switch a.kind {
	case KindNull:
		return true, true
	case KindNumber:
		return a.num.Equal(b.num), true
	case KindString:
		return a.str == b.str, true
	case KindBool:
		return a.b == b.b, true
	case KindList:
		if len(a.list) != len(b.list) {
			return false, true
		}
		for i := range a.list {
			eq, ok := equal(a.list[i], b.list[i])
			if !ok || !eq {
				return false, ok
			}
		}
		return true, true
	}
	return false, false
}

// member reports whether needle is in haystack. A string haystack is searched
// for a substring.
func member(haystack, needle Value) (found, ok bool) {
	switch haystack.kind {
	case KindList:
		for _, v := range haystack.list {
			if eq, ok := equal(v, needle); ok && eq {
				return true, true
			}
		}
		return false, true
	case KindString:
		s, isStr := needle.Str()
		if !isStr {
			return false, false
		}
		return strings.Contains(haystack.str, s), true
	}
	return false, false
}
