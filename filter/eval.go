package filter

import (
	"errors"
	"fmt"
	"strconv"
)

type valKind int

const (
	valStr valKind = iota
	valNum
)

type value struct {
	kind valKind
	s    string
	f    float64
}

// errAbsent flows up from fieldRef to the enclosing comparison, which
// resolves to false. It never escapes Eval.
var errAbsent = errors.New("field absent")

func (v value) num() (float64, bool) {
	if v.kind == valNum {
		return v.f, true
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

func (v value) str() string { return v.s }

type node interface {
	eval(view RecordView) (bool, error)
}

type operand interface {
	resolve(view RecordView) (value, error)
}

type literal struct {
	val value
}

func (l *literal) resolve(RecordView) (value, error) { return l.val, nil }

type fieldRef struct {
	name string
}

func (f *fieldRef) resolve(view RecordView) (value, error) {
	s, ok, err := view.Field(f.name)
	if err != nil {
		return value{}, err
	}
	if !ok {
		return value{}, errAbsent
	}
	return value{kind: valStr, s: s}, nil
}

type andNode struct{ left, right node }

func (n *andNode) eval(view RecordView) (bool, error) {
	l, err := n.left.eval(view)
	if err != nil || !l {
		return false, err
	}
	return n.right.eval(view)
}

type orNode struct{ left, right node }

func (n *orNode) eval(view RecordView) (bool, error) {
	l, err := n.left.eval(view)
	if err != nil || l {
		return l, err
	}
	return n.right.eval(view)
}

type notNode struct{ inner node }

func (n *notNode) eval(view RecordView) (bool, error) {
	v, err := n.inner.eval(view)
	return !v, err
}

type existsNode struct{ field string }

func (n *existsNode) eval(view RecordView) (bool, error) {
	_, ok, err := view.Field(n.field)
	return ok, err
}

type cmpNode struct {
	op          string
	left, right operand
}

func (n *cmpNode) eval(view RecordView) (bool, error) {
	lv, err := n.left.resolve(view)
	if err != nil {
		if errors.Is(err, errAbsent) {
			return false, nil
		}
		return false, err
	}
	rv, err := n.right.resolve(view)
	if err != nil {
		if errors.Is(err, errAbsent) {
			return false, nil
		}
		return false, err
	}
	switch n.op {
	case "==", "!=":
		eq := equalValues(lv, rv)
		if n.op == "!=" {
			return !eq, nil
		}
		return eq, nil
	default:
		lf, lok := lv.num()
		rf, rok := rv.num()
		if !lok || !rok {
			return false, fmt.Errorf("non-numeric operand for %q", n.op)
		}
		switch n.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
		return false, fmt.Errorf("unknown comparison %q", n.op)
	}
}

// Equality compares numerically when both sides coerce, else bytewise.
func equalValues(a, b value) bool {
	af, aok := a.num()
	bf, bok := b.num()
	if aok && bok {
		return af == bf
	}
	return a.str() == b.str()
}
