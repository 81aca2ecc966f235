package guard

import (
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/shapeguard/sym"
	"github.com/pkg/errors"
)

// InlineRange is a declared bound on a symbol that arises from intermediate
// computation (e.g. a data-dependent size), rather than being declared on an
// input dimension.
type InlineRange struct {
	Lower, Upper *sym.Expr
}

// Meta is the per-graph metadata record consumed by AddRuntimeAssertions.
// It is read-only for the duration of the pass.
type Meta struct {
	// InputShapeConstraints are the raw declared constraints per input name.
	InputShapeConstraints map[string]ShapeConstraints

	// ExampleInputs maps input names to the concrete shapes observed at
	// trace/example time. Dimensions not covered by any constraint are
	// specialized against these sizes. Inputs absent from this table are
	// ignored by the pass.
	ExampleInputs map[string]shapes.Shape

	// InlineConstraints maps a symbol to its declared inline bound.
	InlineConstraints map[*sym.Expr]InlineRange
}

// NewMeta returns an empty metadata record, to be filled with the chainable
// With* methods.
func NewMeta() *Meta {
	return &Meta{
		InputShapeConstraints: make(map[string]ShapeConstraints),
		ExampleInputs:         make(map[string]shapes.Shape),
		InlineConstraints:     make(map[*sym.Expr]InlineRange),
	}
}

// WithExampleInput records the concrete example shape of the input name.
// It returns the modified m to allow cascading calls.
func (m *Meta) WithExampleInput(name string, shape shapes.Shape) *Meta {
	m.ExampleInputs[name] = shape
	return m
}

// WithRange declares a range constraint on dimension dim of the input name.
// It returns the modified m to allow cascading calls.
func (m *Meta) WithRange(name string, dim int, min, max *sym.Expr) *Meta {
	sc := m.InputShapeConstraints[name]
	sc.Range = append(sc.Range, RangeRule{Dim: dim, Min: min, Max: max})
	m.InputShapeConstraints[name] = sc
	return m
}

// WithEquality declares that dimension dim of the input name must equal
// dimension otherDim of the input otherName at runtime.
// It returns the modified m to allow cascading calls.
func (m *Meta) WithEquality(name string, dim int, otherName string, otherDim int) *Meta {
	sc := m.InputShapeConstraints[name]
	sc.Equality = append(sc.Equality, EqualityRule{Dim: dim, OtherName: otherName, OtherDim: otherDim})
	m.InputShapeConstraints[name] = sc
	return m
}

// WithInlineConstraint declares an inline bound [lower, upper] on a symbol.
// It returns the modified m to allow cascading calls.
func (m *Meta) WithInlineConstraint(expr *sym.Expr, lower, upper *sym.Expr) *Meta {
	m.InlineConstraints[expr] = InlineRange{Lower: lower, Upper: upper}
	return m
}

// inlineBound is an InlineRange reduced to concrete bounds.
type inlineBound struct {
	lower, upper Bound
}

// convertInlineConstraints reduces all inline bounds before any graph
// mutation, so malformed bounds abort the pass with the graph untouched.
func convertInlineConstraints(raw map[*sym.Expr]InlineRange) (map[*sym.Expr]inlineBound, error) {
	converted := make(map[*sym.Expr]inlineBound, len(raw))
	for expr, r := range raw {
		lower, err := convertToBound(r.Lower)
		if err != nil {
			return nil, errors.WithMessagef(err, "inline constraint on %s", expr)
		}
		upper, err := convertToBound(r.Upper)
		if err != nil {
			return nil, errors.WithMessagef(err, "inline constraint on %s", expr)
		}
		converted[expr] = inlineBound{lower: lower, upper: upper}
	}
	return converted, nil
}
