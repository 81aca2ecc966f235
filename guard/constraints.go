package guard

import (
	"fmt"
	"sort"

	"github.com/gomlx/shapeguard/sym"
	"github.com/pkg/errors"
)

// Bound is one end of a dimension range: a finite integer or +infinity.
type Bound struct {
	value int64
	inf   bool
}

// FiniteBound returns the bound at value.
func FiniteBound(value int64) Bound { return Bound{value: value} }

// InfBound returns the +infinity bound (an open upper end).
func InfBound() Bound { return Bound{inf: true} }

// IsInf reports whether the bound is +infinity.
func (b Bound) IsInf() bool { return b.inf }

// Value returns the finite value; only meaningful when !IsInf.
func (b Bound) Value() int64 { return b.value }

// less reports b < other, with +infinity greater than every finite value.
func (b Bound) less(other Bound) bool {
	if b.inf {
		return false
	}
	if other.inf {
		return true
	}
	return b.value < other.value
}

// String implements fmt.Stringer. Infinity renders as "inf" so range
// messages read the same as the exporting runtime's.
func (b Bound) String() string {
	if b.inf {
		return "inf"
	}
	return fmt.Sprintf("%d", b.value)
}

// convertToBound reduces a constraint bound expression to a finite integer or
// +infinity. Anything else is a malformed constraint.
func convertToBound(e *sym.Expr) (Bound, error) {
	if e.IsPosInf() {
		return InfBound(), nil
	}
	if v, ok := e.AsInt(); ok {
		return FiniteBound(v), nil
	}
	return Bound{}, errors.Errorf("export constraints cannot be non-integer expressions, got %s", e)
}

// RangeRule is one raw range constraint on a dimension of an input: the
// dimension's runtime size must lie in [Min, Max].
type RangeRule struct {
	Dim      int
	Min, Max *sym.Expr
}

// EqualityRule is one raw equality constraint: dimension Dim of this input
// must equal dimension OtherDim of the input named OtherName at runtime.
type EqualityRule struct {
	Dim       int
	OtherName string
	OtherDim  int
}

// ShapeConstraints are the raw constraints declared on one input.
type ShapeConstraints struct {
	Range    []RangeRule
	Equality []EqualityRule
}

// ConstraintSpec is a canonical constraint on one dimension of an input.
// It is a closed interface: RangeConstraintSpec and EqualityConstraintSpec
// are the only implementations.
type ConstraintSpec interface {
	// ConstraintDim returns the dimension index the constraint governs.
	ConstraintDim() int
	constraintSpec()
}

// RangeConstraintSpec is the merged range constraint on one dimension.
// Invariant: Min <= Max.
type RangeConstraintSpec struct {
	Dim      int
	Min, Max Bound
}

func (c RangeConstraintSpec) ConstraintDim() int { return c.Dim }
func (c RangeConstraintSpec) constraintSpec()    {}

// EqualityConstraintSpec links one dimension of an input to a dimension of
// another input. It is resolved only after all inputs are visited, so both
// endpoints exist.
type EqualityConstraintSpec struct {
	Dim       int
	OtherName string
	OtherDim  int
}

func (c EqualityConstraintSpec) ConstraintDim() int { return c.Dim }
func (c EqualityConstraintSpec) constraintSpec()    {}

// normalizeConstraints converts the raw per-input constraints into the
// canonical per-input spec lists.
//
// Range rules on the same (input, dim) merge to their tightest intersection:
// the maximum of the lower bounds and the minimum of the upper bounds. A
// contradictory merge (min > max) is fatal. Equality rules are preserved
// unmerged, after the range specs, in declaration order.
//
// Inputs with no rules get no entry at all: the caller treats them as fully
// specialized.
func normalizeConstraints(raw map[string]ShapeConstraints) (map[string][]ConstraintSpec, error) {
	result := make(map[string][]ConstraintSpec, len(raw))
	for name, shapeConstraints := range raw {
		type mergedRange struct {
			min, max Bound
			set      bool
		}
		perDim := make(map[int]*mergedRange)
		for _, rule := range shapeConstraints.Range {
			minBound, err := convertToBound(rule.Min)
			if err != nil {
				return nil, errors.WithMessagef(err, "range constraint on input %q dimension #%d", name, rule.Dim)
			}
			maxBound, err := convertToBound(rule.Max)
			if err != nil {
				return nil, errors.WithMessagef(err, "range constraint on input %q dimension #%d", name, rule.Dim)
			}
			merged := perDim[rule.Dim]
			if merged == nil {
				merged = &mergedRange{}
				perDim[rule.Dim] = merged
			}
			if !merged.set {
				merged.min, merged.max, merged.set = minBound, maxBound, true
				continue
			}
			if merged.min.less(minBound) {
				merged.min = minBound
			}
			if maxBound.less(merged.max) {
				merged.max = maxBound
			}
		}

		var specs []ConstraintSpec
		dims := make([]int, 0, len(perDim))
		for dim := range perDim {
			dims = append(dims, dim)
		}
		sort.Ints(dims)
		for _, dim := range dims {
			merged := perDim[dim]
			if merged.max.less(merged.min) {
				return nil, errors.Errorf(
					"contradictory range constraints for input %q dimension #%d: merged range is [%s, %s]",
					name, dim, merged.min, merged.max)
			}
			specs = append(specs, RangeConstraintSpec{Dim: dim, Min: merged.min, Max: merged.max})
		}
		for _, rule := range shapeConstraints.Equality {
			specs = append(specs, EqualityConstraintSpec{
				Dim:       rule.Dim,
				OtherName: rule.OtherName,
				OtherDim:  rule.OtherDim,
			})
		}
		if len(specs) > 0 {
			result[name] = specs
		}
	}
	return result, nil
}
