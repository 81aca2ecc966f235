package guard

import (
	"fmt"

	"github.com/gomlx/shapeguard/ir"
	"k8s.io/klog/v2"
)

// Assertion synthesis for operation results.
//
// In general we may have to assert on a value like ret[1].shape[0]: first
// find which symbols of the result descriptor require assertions, then follow
// the path from ret down to each symbol, materializing the extraction
// operations (tuple element reads, dimension size reads) along the way, and
// assembling the error message piece-wise on the same path.
//
// Extraction operations are themselves graph nodes, so they must only be
// created when a real constraint applies: building them eagerly during
// classification would pollute the graph with unused nodes. The traversal is
// therefore split in two phases: a post-order walk collects assertStep
// records (build), and only then every step is applied against the actual
// result node (fire).

// assertStep is one pending assertion: an extraction-plus-assert function and
// the message fragment accumulated for its path. Each step is an independent
// record owning its own path state.
type assertStep struct {
	fire func(proxy *ir.Node, assertMsg string)
	msg  string
}

// synthesizeAsserts inspects the result descriptor of ret and, for every
// scalar symbolic sub-value with an inline constraint, appends the extraction
// and assertion operations immediately after ret. The node itself is left
// unmodified.
func (pc *passContext) synthesizeAsserts(ret *ir.Node) {
	val := ret.Value()
	if val == nil {
		return
	}
	steps := pc.collectAssertSteps(val)
	if len(steps) == 0 {
		return
	}
	klog.V(2).Infof("guard: %d assertion chain(s) for node %s", len(steps), ret)
	pc.graph.SetCursor(ret)
	defer pc.graph.ClearCursor()
	for _, step := range steps {
		step.fire(ret, ret.String()+step.msg)
	}
}

// collectAssertSteps classifies val and returns the assertion steps it
// requires, in post-order. It creates no graph nodes.
func (pc *passContext) collectAssertSteps(val *ir.Value) []assertStep {
	var steps []assertStep
	switch val.Kind() {
	case ir.ValueSymInt, ir.ValueSymFloat, ir.ValueSymBool:
		bound, found := pc.inlineConstraints[val.Expr()]
		if !found {
			return nil
		}
		steps = append(steps, assertStep{
			fire: func(proxy *ir.Node, assertMsg string) {
				pc.assertRangeConstraint(proxy, bound.lower, bound.upper, assertMsg, lowThresholdInline)
			},
			msg: fmt.Sprintf(" is outside of inline constraint [%s, %s].", bound.lower, bound.upper),
		})

	case ir.ValueTensor:
		for dim := 0; dim < val.Rank(); dim++ {
			for _, inner := range pc.collectAssertSteps(val.DimValue(dim)) {
				// dim and inner are per-iteration: each step owns its path.
				steps = append(steps, assertStep{
					fire: func(proxy *ir.Node, assertMsg string) {
						dimProxy := pc.graph.SizeOf(proxy, dim)
						inner.fire(dimProxy, assertMsg)
					},
					msg: fmt.Sprintf(".shape[%d]", dim) + inner.msg,
				})
			}
		}

	case ir.ValueTuple:
		for index, elem := range val.Elements() {
			for _, inner := range pc.collectAssertSteps(elem) {
				steps = append(steps, assertStep{
					fire: func(proxy *ir.Node, assertMsg string) {
						elemProxy := pc.graph.TupleGet(proxy, index)
						inner.fire(elemProxy, assertMsg)
					},
					msg: fmt.Sprintf("[%d]", index) + inner.msg,
				})
			}
		}
	}
	return steps
}
