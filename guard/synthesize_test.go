package guard

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeguard/ir"
	"github.com/gomlx/shapeguard/sym"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineConstraintOnTensorDim(t *testing.T) {
	// The result's dimension 2 is an inline-constrained symbol: exactly one
	// extraction chain reads dimension 2 of the result node, then asserts
	// both bounds (inline constraints always check a finite lower bound).
	u0 := sym.Symbol("synth_u0")
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(8)))
	nonzero := g.NamedOp("nonzero", "NonZero",
		ir.Tensor(dtypes.Int64, ir.StaticDim(1), ir.StaticDim(8), ir.SymDim(u0)), x)

	meta := NewMeta().WithInlineConstraint(u0, sym.Int(1), sym.Int(10))
	modified := must.M1(AddRuntimeAssertions(g, meta))
	assert.True(t, modified)

	messages := assertMessagesOf(g)
	require.Len(t, messages, 2)
	assert.Equal(t, "nonzero.shape[2] is outside of inline constraint [1, 10].", messages[0])
	assert.Equal(t, messages[0], messages[1])

	// Exactly one size-read of dimension 2 of the result, shared by both
	// bound checks.
	var sizeReads []*ir.Node
	for _, n := range g.Nodes() {
		if n.Op() == ir.OpSizeOf {
			sizeReads = append(sizeReads, n)
		}
	}
	require.Len(t, sizeReads, 1)
	assert.Same(t, nonzero, sizeReads[0].Inputs()[0])
	assert.Equal(t, 2, sizeReads[0].Dim())

	// >= 1 first, then <= 10.
	var cmps []ir.Comparator
	for _, n := range g.Nodes() {
		if n.Op() == ir.OpCompare {
			cmps = append(cmps, n.Cmp())
		}
	}
	assert.Equal(t, []ir.Comparator{ir.CmpGe, ir.CmpLe}, cmps)
	require.NoError(t, g.CheckSorted())
}

func TestInlineConstraintOnScalarResult(t *testing.T) {
	// A scalar symbolic result asserts directly on the result node, with no
	// extraction step and no ".shape" fragment in the message.
	u0 := sym.Symbol("synth_item_u0")
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Int64, ir.StaticDim(1)))
	item := g.NamedOp("item", "Item", ir.SymInt(u0), x)

	meta := NewMeta().WithInlineConstraint(u0, sym.Int(0), sym.Int(100))
	must.M1(AddRuntimeAssertions(g, meta))

	messages := assertMessagesOf(g)
	require.Len(t, messages, 2)
	assert.Equal(t, "item is outside of inline constraint [0, 100].", messages[0])

	// No SizeOf extraction: the compares read the result node itself.
	for _, n := range g.Nodes() {
		if n.Op() == ir.OpCompare {
			assert.Same(t, item, n.Inputs()[0])
		}
		assert.NotEqual(t, ir.OpSizeOf, n.Op())
	}
}

func TestInlineConstraintInsideTuple(t *testing.T) {
	// A symbol nested as dimension 1 of element 1 of a tuple result: the
	// chain extracts the element, then the dimension, and the message
	// records the full path.
	u0 := sym.Symbol("synth_tuple_u0")
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(4)))
	topk := g.NamedOp("topk", "TopK", ir.Tuple(
		ir.Tensor(dtypes.Float32, ir.StaticDim(4)),
		ir.Tensor(dtypes.Int64, ir.StaticDim(2), ir.SymDim(u0)),
	), x)

	meta := NewMeta().WithInlineConstraint(u0, sym.Int(1), sym.Int(4))
	must.M1(AddRuntimeAssertions(g, meta))

	messages := assertMessagesOf(g)
	require.Len(t, messages, 2)
	assert.Equal(t, "topk[1].shape[1] is outside of inline constraint [1, 4].", messages[0])

	// TupleGet(topk, 1) then SizeOf(_, 1).
	var tupleGets, sizeReads []*ir.Node
	for _, n := range g.Nodes() {
		switch n.Op() {
		case ir.OpTupleGet:
			tupleGets = append(tupleGets, n)
		case ir.OpSizeOf:
			sizeReads = append(sizeReads, n)
		}
	}
	require.Len(t, tupleGets, 1)
	require.Len(t, sizeReads, 1)
	assert.Same(t, topk, tupleGets[0].Inputs()[0])
	assert.Equal(t, 1, tupleGets[0].Dim())
	assert.Same(t, tupleGets[0], sizeReads[0].Inputs()[0])
	assert.Equal(t, 1, sizeReads[0].Dim())
	require.NoError(t, g.CheckSorted())
}

func TestInlineConstraintInsideNestedTuple(t *testing.T) {
	// Tuples nest: a symbol two tuple levels down still gets one chain,
	// with both element extractions in the message path.
	u0 := sym.Symbol("synth_nested_u0")
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(4)))
	op := g.NamedOp("op", "Split", ir.Tuple(
		ir.Tensor(dtypes.Float32, ir.StaticDim(4)),
		ir.Tuple(ir.Tensor(dtypes.Int64, ir.StaticDim(3), ir.SymDim(u0))),
	), x)

	meta := NewMeta().WithInlineConstraint(u0, sym.Int(2), sym.Int(9))
	must.M1(AddRuntimeAssertions(g, meta))

	messages := assertMessagesOf(g)
	require.Len(t, messages, 2)
	assert.Equal(t, "op[1][0].shape[1] is outside of inline constraint [2, 9].", messages[0])

	// TupleGet(op, 1) -> TupleGet(_, 0) -> SizeOf(_, 1).
	var tupleGets, sizeReads []*ir.Node
	for _, n := range g.Nodes() {
		switch n.Op() {
		case ir.OpTupleGet:
			tupleGets = append(tupleGets, n)
		case ir.OpSizeOf:
			sizeReads = append(sizeReads, n)
		}
	}
	require.Len(t, tupleGets, 2)
	require.Len(t, sizeReads, 1)
	assert.Same(t, op, tupleGets[0].Inputs()[0])
	assert.Equal(t, 1, tupleGets[0].Dim())
	assert.Same(t, tupleGets[0], tupleGets[1].Inputs()[0])
	assert.Equal(t, 0, tupleGets[1].Dim())
	assert.Same(t, tupleGets[1], sizeReads[0].Inputs()[0])
	assert.Equal(t, 1, sizeReads[0].Dim())
	require.NoError(t, g.CheckSorted())
}

func TestSymbolWithoutInlineConstraintIsIgnored(t *testing.T) {
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(8)))
	g.NamedOp("nonzero", "NonZero", ir.Tensor(dtypes.Int64, ir.SymDim(sym.Symbol("synth_free_u0"))), x)
	before := g.NumNodes()

	modified := must.M1(AddRuntimeAssertions(g, NewMeta()))
	assert.False(t, modified)
	assert.Equal(t, before, g.NumNodes())
}

func TestSymbolicBoolAndFloatResults(t *testing.T) {
	// Symbolic bool/float scalars participate in inline-constraint lookup
	// the same way symbolic ints do.
	b0 := sym.Symbol("synth_b0")
	f0 := sym.Symbol("synth_f0")
	g := ir.New("test")
	x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(2)))
	g.NamedOp("any", "Any", ir.SymBool(b0), x)
	g.NamedOp("mean", "Mean", ir.SymFloat(f0), x)

	meta := NewMeta().
		WithInlineConstraint(b0, sym.Int(0), sym.Int(1)).
		WithInlineConstraint(f0, sym.Int(0), sym.PosInf())
	must.M1(AddRuntimeAssertions(g, meta))

	messages := assertMessagesOf(g)
	require.Len(t, messages, 3) // bool: >=0 and <=1; float: >=0 only.
	assert.Equal(t, "any is outside of inline constraint [0, 1].", messages[0])
	assert.Equal(t, "mean is outside of inline constraint [0, inf].", messages[2])
}

func TestSynthesisIsDescriptorDriven(t *testing.T) {
	// Re-running the pass on an already-rewritten graph discovers exactly
	// the symbols of the original descriptors again -- the inserted
	// extraction and assertion nodes carry no descriptors, so graph shape
	// contributes nothing.
	u0 := sym.Symbol("synth_idem_u0")
	build := func() (*ir.Graph, *Meta) {
		g := ir.New("test")
		x := g.Input("x", ir.Tensor(dtypes.Float32, ir.StaticDim(8)))
		g.NamedOp("nonzero", "NonZero", ir.Tensor(dtypes.Int64, ir.SymDim(u0)), x)
		return g, NewMeta().WithInlineConstraint(u0, sym.Int(1), sym.Int(8))
	}

	g, meta := build()
	must.M1(AddRuntimeAssertions(g, meta))
	firstCount := len(assertsOf(g))
	require.Greater(t, firstCount, 0)

	must.M1(AddRuntimeAssertions(g, meta))
	assert.Len(t, assertsOf(g), 2*firstCount)
	require.NoError(t, g.CheckSorted())
}
