package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeguard/sym"
)

// ValueKind discriminates the closed set of computed-value descriptor forms
// a node's result can take.
type ValueKind int

const (
	// ValueConcrete is a plain concrete scalar, fully known at build time.
	ValueConcrete ValueKind = iota

	// ValueSymInt, ValueSymFloat and ValueSymBool are scalar symbolic values,
	// each carrying the expression that stands for them.
	ValueSymInt
	ValueSymFloat
	ValueSymBool

	// ValueTensor is a tensor-like composite with per-dimension sizes, each
	// either concrete or symbolic.
	ValueTensor

	// ValueTuple is an ordered composite of other values, e.g. the result of
	// a multi-output operation.
	ValueTuple
)

// Dim is one dimension of a tensor descriptor: either a concrete size or a
// symbolic expression standing for the size.
type Dim struct {
	size int
	expr *sym.Expr
}

// StaticDim returns a concrete dimension of the given size.
func StaticDim(size int) Dim {
	if size < 0 {
		exceptions.Panicf("ir.StaticDim(%d): size cannot be negative", size)
	}
	return Dim{size: size}
}

// SymDim returns a dimension whose size is the symbolic expression expr.
func SymDim(expr *sym.Expr) Dim {
	return Dim{size: -1, expr: expr}
}

// IsStatic reports whether the dimension size is concrete.
func (d Dim) IsStatic() bool { return d.expr == nil }

// Size returns the concrete size. It is only meaningful if IsStatic.
func (d Dim) Size() int { return d.size }

// Expr returns the symbolic size expression, or nil if the dimension is static.
func (d Dim) Expr() *sym.Expr { return d.expr }

// String implements fmt.Stringer.
func (d Dim) String() string {
	if d.IsStatic() {
		return fmt.Sprintf("%d", d.size)
	}
	return d.expr.String()
}

// Value is the computed-value descriptor attached to a node: the metadata
// describing the node's result. It is a closed tagged variant; use Kind to
// dispatch. A nil *Value means the node carries no result metadata, and no
// assertion synthesis applies to it.
type Value struct {
	kind  ValueKind
	value int64
	expr  *sym.Expr
	dtype dtypes.DType
	dims  []Dim
	elems []*Value
}

// Concrete returns a descriptor for a plain concrete scalar.
func Concrete(value int64) *Value {
	return &Value{kind: ValueConcrete, value: value}
}

// SymInt returns a descriptor for a symbolic integer scalar.
func SymInt(expr *sym.Expr) *Value {
	return &Value{kind: ValueSymInt, expr: expr}
}

// SymFloat returns a descriptor for a symbolic float scalar.
func SymFloat(expr *sym.Expr) *Value {
	return &Value{kind: ValueSymFloat, expr: expr}
}

// SymBool returns a descriptor for a symbolic boolean scalar.
func SymBool(expr *sym.Expr) *Value {
	return &Value{kind: ValueSymBool, expr: expr}
}

// Tensor returns a descriptor for a tensor result with the given dtype and
// dimensions.
func Tensor(dtype dtypes.DType, dims ...Dim) *Value {
	return &Value{kind: ValueTensor, dtype: dtype, dims: dims}
}

// TensorFromShape returns a tensor descriptor with all dimensions static,
// taken from a concrete shape.
func TensorFromShape(shape shapes.Shape) *Value {
	dims := make([]Dim, shape.Rank())
	for i, size := range shape.Dimensions {
		dims[i] = StaticDim(size)
	}
	return Tensor(shape.DType, dims...)
}

// Tuple returns a descriptor for an ordered composite of other values.
func Tuple(elems ...*Value) *Value {
	return &Value{kind: ValueTuple, elems: elems}
}

// Kind returns the descriptor form.
func (v *Value) Kind() ValueKind { return v.kind }

// IsSymbolicScalar reports whether v is a scalar symbolic value of any dtype
// (int, float or bool).
func (v *Value) IsSymbolicScalar() bool {
	return v.kind == ValueSymInt || v.kind == ValueSymFloat || v.kind == ValueSymBool
}

// Expr returns the symbolic expression of a symbolic scalar, or nil for any
// other kind. The returned expression is interned and usable as a map key.
func (v *Value) Expr() *sym.Expr { return v.expr }

// AsInt returns the concrete scalar value; only meaningful for ValueConcrete.
func (v *Value) AsInt() int64 { return v.value }

// DType returns the tensor element type; only meaningful for ValueTensor.
func (v *Value) DType() dtypes.DType { return v.dtype }

// Rank returns the number of dimensions of a tensor descriptor, 0 otherwise.
func (v *Value) Rank() int { return len(v.dims) }

// Dim returns the i-th dimension of a tensor descriptor.
func (v *Value) Dim(i int) Dim {
	if v.kind != ValueTensor || i < 0 || i >= len(v.dims) {
		exceptions.Panicf("ir.Value.Dim(%d): not a tensor of rank > %d", i, i)
	}
	return v.dims[i]
}

// DimValue returns the i-th dimension of a tensor descriptor as a scalar
// descriptor: Concrete for static dimensions, SymInt for symbolic ones.
func (v *Value) DimValue(i int) *Value {
	d := v.Dim(i)
	if d.IsStatic() {
		return Concrete(int64(d.Size()))
	}
	return SymInt(d.Expr())
}

// Elements returns the ordered elements of a tuple descriptor, nil otherwise.
func (v *Value) Elements() []*Value { return v.elems }

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "<none>"
	}
	switch v.kind {
	case ValueConcrete:
		return fmt.Sprintf("%d", v.value)
	case ValueSymInt:
		return fmt.Sprintf("SymInt(%s)", v.expr)
	case ValueSymFloat:
		return fmt.Sprintf("SymFloat(%s)", v.expr)
	case ValueSymBool:
		return fmt.Sprintf("SymBool(%s)", v.expr)
	case ValueTensor:
		parts := make([]string, len(v.dims))
		for i, d := range v.dims {
			parts[i] = d.String()
		}
		return fmt.Sprintf("(%s)[%s]", v.dtype, strings.Join(parts, " "))
	case ValueTuple:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return "invalid"
	}
}
