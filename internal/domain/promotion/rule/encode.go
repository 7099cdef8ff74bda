package rule

import (
	"fmt"

	"github.com/go-faster/jx"
)

// Encode writes n back in its canonical JSON form. A nil tree encodes as null.
func Encode(n Node) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	encodeNode(e, n)
	return append([]byte(nil), e.Bytes()...)
}

func encodeNode(e *jx.Encoder, n Node) {
	switch n := n.(type) {
	case nil:
		e.Null()
	case Const:
		e.Bool(n.Value)
	case All:
		encodeList(e, "and", n.Rules)
	case Any:
		encodeList(e, "or", n.Rules)
	case Not:
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("!")
			encodeNode(e, n.Rule)
		})
	case Weighted:
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("weight")
			e.Arr(func(e *jx.Encoder) {
				e.Float64(n.Weight)
				encodeNode(e, n.Rule)
			})
		})
	case Compare:
		encodePair(e, n.Op.String(), n.Left, n.Right)
	case In:
		encodePair(e, "in", n.Needle, n.List)
	case Contains:
		encodePair(e, "contains", n.List, n.Needle)
	default:
		panic(fmt.Sprintf("rule: unhandled node %T", n))
	}
}

func encodeList(e *jx.Encoder, op string, rules []Node) {
	e.Obj(func(e *jx.Encoder) {
		e.FieldStart(op)
		e.Arr(func(e *jx.Encoder) {
			for _, r := range rules {
				encodeNode(e, r)
			}
		})
	})
}

func encodePair(e *jx.Encoder, op string, a, b Operand) {
	e.Obj(func(e *jx.Encoder) {
		e.FieldStart(op)
		e.Arr(func(e *jx.Encoder) {
			encodeOperand(e, a)
			encodeOperand(e, b)
		})
	})
}

func encodeOperand(e *jx.Encoder, o Operand) {
	switch o := o.(type) {
	case Var:
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("var")
			e.Str(o.Path)
		})
	case Lit:
		encodeValue(e, o.Value)
	default:
		panic(fmt.Sprintf("rule: unhandled operand %T", o))
	}
}

func encodeValue(e *jx.Encoder, v Value) {
	switch v.kind {
	case KindNumber:
		e.Num(jx.Num(v.num.String()))
	case KindString:
		e.Str(v.str)
	case KindBool:
		e.Bool(v.b)
	case KindList:
		e.Arr(func(e *jx.Encoder) {
			for _, item := range v.list {
				encodeValue(e, item)
			}
		})
	default:
		e.Null()
	}
}
