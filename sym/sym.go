// Package sym implements the small symbolic scalar expressions attached to
// dynamic dimensions and intermediate values of an export graph.
//
// Expressions are interned: building the same expression twice returns the
// same *Expr pointer, so *Expr can be used directly as a map key (e.g. the
// inline-constraint table of package guard). Identity is structural, never
// object identity of the values that carried the expression.
package sym

import (
	"strconv"
	"strings"
	"sync"
)

// ExprKind discriminates the closed set of expression forms.
type ExprKind int

const (
	// KindLiteral is a concrete integer.
	KindLiteral ExprKind = iota

	// KindPosInf is positive infinity, used as an open upper bound.
	KindPosInf

	// KindSymbol is a free symbol, e.g. the unknown size of a dynamic dimension.
	KindSymbol

	// KindAdd and KindMul are arithmetic combinations of sub-expressions.
	KindAdd
	KindMul
)

// Expr is an interned symbolic scalar expression.
//
// Exprs are immutable and safe for concurrent use. Two Exprs are structurally
// equal if and only if they are the same pointer.
type Expr struct {
	kind  ExprKind
	value int64  // KindLiteral only.
	name  string // KindSymbol only.
	args  []*Expr

	key string // canonical structural key, also the intern table key.
}

var (
	internMu    sync.Mutex
	internTable = make(map[string]*Expr)
)

// intern returns the canonical *Expr for e's structural key, registering e
// if it is the first with that key.
func intern(e *Expr) *Expr {
	internMu.Lock()
	defer internMu.Unlock()
	if canonical, found := internTable[e.key]; found {
		return canonical
	}
	internTable[e.key] = e
	return e
}

// Int returns the literal integer expression for value.
func Int(value int64) *Expr {
	return intern(&Expr{
		kind:  KindLiteral,
		value: value,
		key:   strconv.FormatInt(value, 10),
	})
}

// PosInf returns the positive-infinity expression.
func PosInf() *Expr {
	return intern(&Expr{kind: KindPosInf, key: "oo"})
}

// Symbol returns the free symbol named name (e.g. "s0", "batch_size").
func Symbol(name string) *Expr {
	return intern(&Expr{kind: KindSymbol, name: name, key: "$" + name})
}

// nary builds an interned n-ary expression with the given operator tag.
func nary(kind ExprKind, tag string, args ...*Expr) *Expr {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = arg.key
	}
	return intern(&Expr{
		kind: kind,
		args: args,
		key:  "(" + tag + " " + strings.Join(keys, " ") + ")",
	})
}

// Add returns the sum a+b.
func Add(a, b *Expr) *Expr { return nary(KindAdd, "+", a, b) }

// Mul returns the product a*b.
func Mul(a, b *Expr) *Expr { return nary(KindMul, "*", a, b) }

// Kind returns the expression form.
func (e *Expr) Kind() ExprKind { return e.kind }

// AsInt returns the concrete integer value if e is a literal.
func (e *Expr) AsInt() (value int64, ok bool) {
	if e.kind != KindLiteral {
		return 0, false
	}
	return e.value, true
}

// IsPosInf reports whether e is positive infinity.
func (e *Expr) IsPosInf() bool { return e.kind == KindPosInf }

// String implements fmt.Stringer.
func (e *Expr) String() string {
	switch e.kind {
	case KindLiteral:
		return strconv.FormatInt(e.value, 10)
	case KindPosInf:
		return "inf"
	case KindSymbol:
		return e.name
	case KindAdd, KindMul:
		op := "+"
		if e.kind == KindMul {
			op = "*"
		}
		parts := make([]string, len(e.args))
		for i, arg := range e.args {
			parts[i] = arg.String()
		}
		return "(" + strings.Join(parts, op) + ")"
	default:
		return "invalid"
	}
}
