package rule

import (
	"bytes"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Parse decodes a JSON-logic rule tree. Empty input, null and {} mean
// "no constraint" and yield a nil Node.
func Parse(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("{}")) {
		return nil, nil
	}

	d := jx.DecodeBytes(data)
	n, err := parseNode(d)
	if err != nil {
		return nil, asInvalid(err)
	}
	if d.Next() != jx.Invalid {
		return nil, &InvalidRuleError{Reason: "trailing data after rule"}
	}
	return n, nil
}

func asInvalid(err error) error {
	var ire *InvalidRuleError
	if errors.As(err, &ire) {
		return ire
	}
	return &InvalidRuleError{Reason: "malformed JSON: " + err.Error()}
}

func parseNode(d *jx.Decoder) (Node, error) {
	switch d.Next() {
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return nil, err
		}
		return Const{Value: b}, nil
	case jx.Object:
		var (
			n    Node
			seen bool
		)
		err := d.Obj(func(d *jx.Decoder, key string) error {
			if seen {
				return &InvalidRuleError{Op: key, Reason: "rule object must have exactly one operator"}
			}
			seen = true
			var err error
			n, err = parseOp(d, key)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !seen {
			return nil, &InvalidRuleError{Reason: "empty rule object"}
		}
		return n, nil
	default:
		return nil, &InvalidRuleError{Reason: "rule must be an object or boolean, got " + d.Next().String()}
	}
}

func parseOp(d *jx.Decoder, op string) (Node, error) {
	switch op {
	case "and", "or":
		children, err := parseChildren(d, op)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, &InvalidRuleError{Op: op, Reason: "needs at least one operand"}
		}
		if op == "and" {
			return All{Rules: children}, nil
		}
		return Any{Rules: children}, nil
	case "!", "not":
		if d.Next() != jx.Array {
			child, err := parseNode(d)
			if err != nil {
				return nil, err
			}
			return Not{Rule: child}, nil
		}
		children, err := parseChildren(d, op)
		if err != nil {
			return nil, err
		}
		if len(children) != 1 {
			return nil, &InvalidRuleError{Op: op, Reason: "takes exactly one operand"}
		}
		return Not{Rule: children[0]}, nil
	case "==", "!=", ">", ">=", "<", "<=":
		l, r, err := parsePair(d, op)
		if err != nil {
			return nil, err
		}
		return Compare{Op: symbolOp(op), Left: l, Right: r}, nil
	case "in":
		needle, list, err := parsePair(d, op)
		if err != nil {
			return nil, err
		}
		return In{Needle: needle, List: list}, nil
	case "contains":
		list, needle, err := parsePair(d, op)
		if err != nil {
			return nil, err
		}
		return Contains{List: list, Needle: needle}, nil
	case "weight":
		return parseWeighted(d)
	case "var":
		return nil, &InvalidRuleError{Op: op, Reason: "var is an operand, not a rule"}
	default:
		return nil, &InvalidRuleError{Op: op, Reason: "unknown operator"}
	}
}

func symbolOp(s string) Op {
	for op, sym := range opSymbols {
		if sym == s {
			return op
		}
	}
	return 0
}

func parseChildren(d *jx.Decoder, op string) ([]Node, error) {
	if d.Next() != jx.Array {
		return nil, &InvalidRuleError{Op: op, Reason: "operands must be an array"}
	}
	var out []Node
	err := d.Arr(func(d *jx.Decoder) error {
		n, err := parseNode(d)
		if err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

func parsePair(d *jx.Decoder, op string) (Operand, Operand, error) {
	if d.Next() != jx.Array {
		return nil, nil, &InvalidRuleError{Op: op, Reason: "operands must be an array"}
	}
	var ops []Operand
	err := d.Arr(func(d *jx.Decoder) error {
		o, err := parseOperand(d)
		if err != nil {
			return err
		}
		ops = append(ops, o)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(ops) != 2 {
		return nil, nil, &InvalidRuleError{Op: op, Reason: "takes exactly two operands"}
	}
	return ops[0], ops[1], nil
}

func parseWeighted(d *jx.Decoder) (Node, error) {
	const op = "weight"
	if d.Next() != jx.Array {
		return nil, &InvalidRuleError{Op: op, Reason: "expects [weight, rule]"}
	}
	var (
		w     float64
		child Node
		i     int
	)
	err := d.Arr(func(d *jx.Decoder) error {
		defer func() { i++ }()
		switch i {
		case 0:
			if d.Next() != jx.Number {
				return &InvalidRuleError{Op: op, Reason: "weight must be a number"}
			}
			f, err := d.Float64()
			if err != nil {
				return err
			}
			w = f
			return nil
		case 1:
			n, err := parseNode(d)
			child = n
			return err
		default:
			return &InvalidRuleError{Op: op, Reason: "expects [weight, rule]"}
		}
	})
	if err != nil {
		return nil, err
	}
	if i != 2 {
		return nil, &InvalidRuleError{Op: op, Reason: "expects [weight, rule]"}
	}
	if w <= 0 {
		return nil, &InvalidRuleError{Op: op, Reason: "weight must be positive"}
	}
	return Weighted{Weight: w, Rule: child}, nil
}

func parseOperand(d *jx.Decoder) (Operand, error) {
	if d.Next() == jx.Object {
		var (
			v    Var
			seen bool
		)
		err := d.Obj(func(d *jx.Decoder, key string) error {
			if key != "var" || seen {
				return &InvalidRuleError{Op: key, Reason: "only {\"var\": path} is allowed as an operand object"}
			}
			seen = true
			if d.Next() != jx.String {
				return &InvalidRuleError{Op: "var", Reason: "path must be a string"}
			}
			path, err := d.Str()
			if err != nil {
				return err
			}
			if path == "" {
				return &InvalidRuleError{Op: "var", Reason: "path must not be empty"}
			}
			v.Path = path
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !seen {
			return nil, &InvalidRuleError{Reason: "empty operand object"}
		}
		return v, nil
	}

	val, err := parseLiteral(d)
	if err != nil {
		return nil, err
	}
	return Lit{Value: val}, nil
}

func parseLiteral(d *jx.Decoder) (Value, error) {
	switch d.Next() {
	case jx.Null:
		return Null(), d.Null()
	case jx.Bool:
		b, err := d.Bool()
		return Bool(b), err
	case jx.String:
		s, err := d.Str()
		return String(s), err
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return Value{}, err
		}
		dec, err := decimal.NewFromString(num.String())
		if err != nil {
			return Value{}, &InvalidRuleError{Reason: "bad number literal " + num.String()}
		}
		return Number(dec), nil
	case jx.Array:
		var items []Value
		err := d.Arr(func(d *jx.Decoder) error {
			if d.Next() == jx.Array || d.Next() == jx.Object {
				return &InvalidRuleError{Reason: "list literals may only hold scalars"}
			}
			v, err := parseLiteral(d)
			if err != nil {
				return err
			}
			items = append(items, v)
			return nil
		})
		return List(items...), err
	default:
		return Value{}, &InvalidRuleError{Reason: "unexpected operand type " + d.Next().String()}
	}
}
