// Package guard compiles declared shape constraints of an export graph into
// explicit runtime assertion operations embedded in that same graph, so an
// exported program fails fast, with a legible message, when invoked with
// inputs whose shapes violate the assumptions made at export time.
//
// The entry point is AddRuntimeAssertions. Every synthesized check lowers to
// the primitive sequence SizeOf -> Compare -> ScalarTensor -> AssertMsg (see
// package ir).
package guard

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/shapeguard/ir"
	"github.com/gomlx/shapeguard/sym"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// lowThresholdInputDim exempts dimensions 0, 1 and 2 from lower-bound checks
// on input dimensions: sizes 0 and 1 commonly trigger distinct specialization
// behavior upstream, so the exported graph is assumed to generalize there.
// Inline constraints use lowThresholdInline instead and always check a
// finite lower bound.
const (
	lowThresholdInputDim = 2
	lowThresholdInline   = -1
)

// passContext holds all state of one AddRuntimeAssertions invocation. It is
// constructed at pass start and discarded at pass end, never shared.
type passContext struct {
	graph             *ir.Graph
	constraints       map[string][]ConstraintSpec
	exampleInputs     map[string]shapes.Shape
	inlineConstraints map[*sym.Expr]inlineBound
	inputNameToNode   map[string]*ir.Node
	modified          bool
}

// deferredEquality is an equality constraint waiting for all inputs to be
// visited before its other endpoint can be resolved.
type deferredEquality struct {
	spec    EqualityConstraintSpec
	name    string
	dimNode *ir.Node // size-read of the constrained dimension, already inserted.
}

// AddRuntimeAssertions rewrites g in place, inserting runtime shape
// assertions derived from meta:
//
//   - per input, in declaration order: range assertions for constrained
//     dimensions and specialization assertions (size == example size) for
//     every dimension not covered by any constraint;
//   - then cross-input equality assertions, in declaration order;
//   - then, for every operation in topological order, bound assertions for
//     any symbol of its result descriptor present in the inline-constraint
//     table, reached through the needed extraction operations.
//
// It returns whether anything was inserted. Malformed constraints
// (non-integer bounds, contradictory ranges) fail before any mutation; an
// equality constraint naming an unknown input is a fatal caller error.
func AddRuntimeAssertions(g *ir.Graph, meta *Meta) (modified bool, err error) {
	constraints, err := normalizeConstraints(meta.InputShapeConstraints)
	if err != nil {
		return false, errors.WithMessagef(err, "guard.AddRuntimeAssertions(%q)", g.Name())
	}
	inline, err := convertInlineConstraints(meta.InlineConstraints)
	if err != nil {
		return false, errors.WithMessagef(err, "guard.AddRuntimeAssertions(%q)", g.Name())
	}
	if err = g.CheckSorted(); err != nil {
		return false, errors.WithMessagef(err, "guard.AddRuntimeAssertions(%q)", g.Name())
	}

	pc := &passContext{
		graph:             g,
		constraints:       constraints,
		exampleInputs:     meta.ExampleInputs,
		inlineConstraints: inline,
		inputNameToNode:   make(map[string]*ir.Node),
	}
	err = exceptions.TryCatch[error](func() {
		pc.processInputs()
		pc.processOperators()
	})
	if err != nil {
		return false, errors.WithMessagef(err, "guard.AddRuntimeAssertions(%q)", g.Name())
	}
	klog.V(1).Infof("guard: graph %q rewritten, modified=%v (%d nodes)", g.Name(), pc.modified, g.NumNodes())
	return pc.modified, nil
}

// processInputs walks the declared inputs in order, inserting range and
// specialization assertions, then resolves the deferred cross-input
// equalities. All insertions land after the last input node and before the
// first operator.
//
// Known quirk, kept for parity with the exporting runtime: the first input
// found without any canonical constraint gets all its dimensions specialized
// and then input processing returns immediately -- later inputs are not
// specialized and deferred equalities are not emitted.
func (pc *passContext) processInputs() {
	inputs := pc.graph.Inputs()
	for _, input := range inputs {
		if _, found := pc.exampleInputs[input.Name()]; !found {
			continue
		}
		pc.inputNameToNode[input.Name()] = input
	}
	if len(inputs) > 0 {
		// Input-level assertions are spliced between the inputs and the
		// first operator.
		pc.graph.SetCursor(inputs[len(inputs)-1])
		defer pc.graph.ClearCursor()
	}

	var deferred []deferredEquality
	for _, input := range inputs {
		name := input.Name()
		example, found := pc.exampleInputs[name]
		if !found {
			continue
		}
		allDims := make([]int, example.Rank())
		for d := range allDims {
			allDims[d] = d
		}

		specs, found := pc.constraints[name]
		if !found {
			// No dynamism specified: assume every dimension is specialized.
			pc.insertSpecializedShapesAssert(input, allDims, name, example)
			return
		}

		constrainedDims := types.MakeSet[int]()
		for _, spec := range specs {
			constrainedDims.Insert(spec.ConstraintDim())
			// The size-read is created for every constrained dimension, even
			// when no comparison ends up firing against it: equality
			// resolution reads it later, and the node order is part of the
			// rewrite contract.
			dimNode := pc.graph.SizeOf(input, spec.ConstraintDim())
			pc.modified = true
			switch spec := spec.(type) {
			case RangeConstraintSpec:
				assertMsg := fmt.Sprintf(
					"Input %s's dimension #%d size is outside of specified dynamic range [%s, %s]",
					name, spec.Dim, spec.Min, spec.Max)
				pc.assertRangeConstraint(dimNode, spec.Min, spec.Max, assertMsg, lowThresholdInputDim)
			case EqualityConstraintSpec:
				// Cannot resolve the other input's node yet.
				deferred = append(deferred, deferredEquality{spec: spec, name: name, dimNode: dimNode})
			default:
				exceptions.Panicf("unknown constraint spec %T on input %q", spec, name)
			}
		}

		var specializedDims []int
		for _, d := range allDims {
			if !constrainedDims.Has(d) {
				specializedDims = append(specializedDims, d)
			}
		}
		pc.insertSpecializedShapesAssert(input, specializedDims, name, example)
	}

	for _, eq := range deferred {
		otherNode, found := pc.inputNameToNode[eq.spec.OtherName]
		if !found {
			exceptions.Panicf("equality constraint on input %q dimension #%d references unknown input %q",
				eq.name, eq.spec.Dim, eq.spec.OtherName)
		}
		otherDimNode := pc.graph.SizeOf(otherNode, eq.spec.OtherDim)
		assertMsg := fmt.Sprintf(
			"Input %s's dimension #%d size is not equal to input %s's dimension #%d",
			eq.name, eq.spec.Dim, eq.spec.OtherName, eq.spec.OtherDim)
		pc.insertAssertAsync(ir.CmpEq, eq.dimNode, otherDimNode, assertMsg)
	}
}

// insertSpecializedShapesAssert inserts one size == example-size assertion
// per listed dimension of the input node arg. Sizes come from the concrete
// example shape, never from the node's descriptor, which may be symbolic.
func (pc *passContext) insertSpecializedShapesAssert(arg *ir.Node, dims []int, name string, example shapes.Shape) {
	for _, dim := range dims {
		size := example.Dimensions[dim]
		assertMsg := fmt.Sprintf("Input %s's dimension #%d size is specialized at %d", name, dim, size)
		dimNode := pc.graph.SizeOf(arg, dim)
		pc.insertAssertAsync(ir.CmpEq, dimNode, pc.graph.Const(int64(size)), assertMsg)
	}
}

// processOperators runs assertion synthesis over every non-input operation,
// in the graph's original topological order.
func (pc *passContext) processOperators() {
	nodes := make([]*ir.Node, 0, pc.graph.NumNodes())
	for _, n := range pc.graph.Nodes() {
		if n.Op() != ir.OpInput {
			nodes = append(nodes, n)
		}
	}
	for _, n := range nodes {
		pc.synthesizeAsserts(n)
	}
}

// assertRangeConstraint emits the bound checks of [lower, upper] on proxy:
// the lower-bound check only when the bound is finite and above lowThreshold,
// the upper-bound check only when the bound is finite.
func (pc *passContext) assertRangeConstraint(proxy *ir.Node, lower, upper Bound, assertMsg string, lowThreshold int64) {
	if !lower.IsInf() && lower.Value() > lowThreshold {
		pc.insertAssertAsyncConst(ir.CmpGe, proxy, lower.Value(), assertMsg)
	}
	if !upper.IsInf() {
		pc.insertAssertAsyncConst(ir.CmpLe, proxy, upper.Value(), assertMsg)
	}
}

// insertAssertAsync lowers one check to the assertion primitive sequence:
// Compare -> ScalarTensor -> AssertMsg, at the current cursor.
func (pc *passContext) insertAssertAsync(cmp ir.Comparator, lhs, rhs *ir.Node, assertMsg string) {
	cmpNode := pc.graph.Compare(cmp, lhs, rhs)
	scalar := pc.graph.ScalarTensor(cmpNode)
	pc.graph.AssertMsg(scalar, assertMsg)
	pc.modified = true
	klog.V(2).Infof("guard: inserted assertion %q", assertMsg)
}

// insertAssertAsyncConst is insertAssertAsync against a constant.
func (pc *passContext) insertAssertAsyncConst(cmp ir.Comparator, lhs *ir.Node, value int64, assertMsg string) {
	pc.insertAssertAsync(cmp, lhs, pc.graph.Const(value), assertMsg)
}
