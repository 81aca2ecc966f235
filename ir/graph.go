// Package ir defines the operation-level intermediate representation rewritten
// by package guard: a graph whose nodes are operations carrying computed-value
// descriptors, plus the assertion primitives (size-read, compare,
// boolean-to-scalar conversion, assert-with-message) that runtime checks
// lower to.
//
// Graphs keep their nodes in topological order. New nodes are appended at the
// end, or, when an insertion cursor is set (SetCursor), spliced immediately
// after the cursor -- the cursor then advances to the new node, so a sequence
// of additions lands in order right after the anchor.
package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types"
)

// OpKind identifies the operation a node performs. The assertion primitives
// are predefined; any other kind can be used for regular computation nodes.
type OpKind string

const (
	// OpInput is a graph input (placeholder).
	OpInput OpKind = "Input"

	// OpConst is a concrete scalar constant.
	OpConst OpKind = "Const"

	// OpSizeOf reads the runtime size of one dimension of a tensor.
	OpSizeOf OpKind = "SizeOf"

	// OpTupleGet extracts one element of a tuple-valued result.
	OpTupleGet OpKind = "TupleGet"

	// OpCompare compares two scalars, yielding a boolean.
	OpCompare OpKind = "Compare"

	// OpScalarTensor converts a boolean to an assertable scalar tensor.
	OpScalarTensor OpKind = "ScalarTensor"

	// OpAssertMsg asserts a scalar is true, failing with a message otherwise.
	OpAssertMsg OpKind = "AssertMsg"
)

// Comparator selects the comparison an OpCompare node performs.
type Comparator int

const (
	CmpEq Comparator = iota
	CmpGe
	CmpLe
)

// String implements fmt.Stringer.
func (c Comparator) String() string {
	switch c {
	case CmpEq:
		return "=="
	case CmpGe:
		return ">="
	case CmpLe:
		return "<="
	default:
		return "invalid"
	}
}

// Node is one operation of the graph. Nodes are created through the Graph
// builder methods and are immutable afterwards.
type Node struct {
	graph   *Graph
	name    string
	op      OpKind
	inputs  []*Node
	dim     int        // OpSizeOf dimension / OpTupleGet index.
	cmp     Comparator // OpCompare only.
	literal int64      // OpConst only.
	message string     // OpAssertMsg only.
	val     *Value
}

// Name returns the node's unique name within its graph.
func (n *Node) Name() string { return n.name }

// Op returns the operation kind.
func (n *Node) Op() OpKind { return n.op }

// Inputs returns the operand nodes.
func (n *Node) Inputs() []*Node { return n.inputs }

// Dim returns the dimension read by OpSizeOf or the index of OpTupleGet.
func (n *Node) Dim() int { return n.dim }

// Cmp returns the comparator of an OpCompare node.
func (n *Node) Cmp() Comparator { return n.cmp }

// Literal returns the value of an OpConst node.
func (n *Node) Literal() int64 { return n.literal }

// Message returns the failure message of an OpAssertMsg node.
func (n *Node) Message() string { return n.message }

// Value returns the node's computed-value descriptor, or nil if it carries
// none. Assertion primitive nodes created by the rewrite carry none.
func (n *Node) Value() *Value { return n.val }

// String implements fmt.Stringer and returns the node name. This is what
// prefixes synthesized assertion messages.
func (n *Node) String() string { return n.name }

// Graph is an ordered operation graph under construction or rewrite.
type Graph struct {
	name   string
	nodes  []*Node
	byName map[string]*Node
	inputs []*Node
	nextID int
	cursor int // index after which the next node is spliced; -1 appends.
}

// New returns an empty graph with the given name.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		byName: make(map[string]*Node),
		cursor: -1,
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Nodes returns the nodes in their current order. The returned slice is
// shared with the graph; callers that insert while iterating must copy first.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Inputs returns the input nodes in declaration order.
func (g *Graph) Inputs() []*Node { return g.inputs }

// NodeByName returns the node with the given name, or nil.
func (g *Graph) NodeByName(name string) *Node { return g.byName[name] }

// SetCursor makes subsequent node additions splice immediately after anchor,
// advancing the cursor to each new node. Panics if anchor is not in g.
func (g *Graph) SetCursor(anchor *Node) {
	for i, n := range g.nodes {
		if n == anchor {
			g.cursor = i
			return
		}
	}
	exceptions.Panicf("ir.Graph(%q).SetCursor: node %q is not part of the graph", g.name, anchor.name)
}

// ClearCursor restores append-at-end behavior.
func (g *Graph) ClearCursor() { g.cursor = -1 }

// add registers n, splicing it after the cursor when one is set.
func (g *Graph) add(n *Node) *Node {
	if _, found := g.byName[n.name]; found {
		exceptions.Panicf("ir.Graph(%q): duplicate node name %q", g.name, n.name)
	}
	g.byName[n.name] = n
	if g.cursor < 0 {
		g.nodes = append(g.nodes, n)
		return n
	}
	at := g.cursor + 1
	g.nodes = append(g.nodes, nil)
	copy(g.nodes[at+1:], g.nodes[at:])
	g.nodes[at] = n
	g.cursor = at
	return n
}

// autoName generates a fresh name from an op kind, FX-style ("sizeof_3").
func (g *Graph) autoName(op OpKind) string {
	name := fmt.Sprintf("%s_%d", strings.ToLower(string(op)), g.nextID)
	g.nextID++
	return name
}

// Input declares a graph input with the given name and result descriptor.
// Inputs must be declared before any other node.
func (g *Graph) Input(name string, val *Value) *Node {
	if len(g.nodes) != len(g.inputs) {
		exceptions.Panicf("ir.Graph(%q).Input(%q): inputs must be declared before operations", g.name, name)
	}
	n := g.add(&Node{graph: g, name: name, op: OpInput, val: val})
	g.inputs = append(g.inputs, n)
	return n
}

// Op adds a regular computation node of the given kind, with an
// auto-generated name.
func (g *Graph) Op(op OpKind, val *Value, inputs ...*Node) *Node {
	return g.add(&Node{graph: g, name: g.autoName(op), op: op, inputs: inputs, val: val})
}

// NamedOp is Op with a caller-chosen node name.
func (g *Graph) NamedOp(name string, op OpKind, val *Value, inputs ...*Node) *Node {
	return g.add(&Node{graph: g, name: name, op: op, inputs: inputs, val: val})
}

// SizeOf adds a size-read of dimension dim of x. If x carries a tensor
// descriptor, dim is checked against its rank; extraction proxies created by
// the rewrite carry no descriptor and are not checked.
func (g *Graph) SizeOf(x *Node, dim int) *Node {
	if val := x.Value(); val != nil && val.Kind() == ValueTensor && (dim < 0 || dim >= val.Rank()) {
		exceptions.Panicf("ir.Graph(%q).SizeOf(%q, %d): dimension out of range for %s", g.name, x.name, dim, val)
	}
	return g.add(&Node{graph: g, name: g.autoName(OpSizeOf), op: OpSizeOf, inputs: []*Node{x}, dim: dim})
}

// TupleGet adds an extraction of element i of the tuple-valued x.
func (g *Graph) TupleGet(x *Node, i int) *Node {
	if val := x.Value(); val != nil && val.Kind() == ValueTuple && (i < 0 || i >= len(val.Elements())) {
		exceptions.Panicf("ir.Graph(%q).TupleGet(%q, %d): index out of range for %s", g.name, x.name, i, val)
	}
	return g.add(&Node{graph: g, name: g.autoName(OpTupleGet), op: OpTupleGet, inputs: []*Node{x}, dim: i})
}

// Const adds a concrete scalar constant.
func (g *Graph) Const(value int64) *Node {
	return g.add(&Node{graph: g, name: g.autoName(OpConst), op: OpConst, literal: value, val: Concrete(value)})
}

// Compare adds a comparison of lhs against rhs.
func (g *Graph) Compare(cmp Comparator, lhs, rhs *Node) *Node {
	return g.add(&Node{graph: g, name: g.autoName(OpCompare), op: OpCompare, inputs: []*Node{lhs, rhs}, cmp: cmp})
}

// ScalarTensor adds a boolean-to-assertable-scalar conversion of x.
func (g *Graph) ScalarTensor(x *Node) *Node {
	return g.add(&Node{graph: g, name: g.autoName(OpScalarTensor), op: OpScalarTensor, inputs: []*Node{x}})
}

// AssertMsg adds an assertion that cond holds, failing with msg at runtime
// otherwise.
func (g *Graph) AssertMsg(cond *Node, msg string) *Node {
	return g.add(&Node{graph: g, name: g.autoName(OpAssertMsg), op: OpAssertMsg, inputs: []*Node{cond}, message: msg})
}

// CheckSorted verifies the nodes are in topological order: every node's
// operands appear before it. Returns an error naming the first violation.
func (g *Graph) CheckSorted() error {
	seen := types.MakeSet[*Node]()
	for _, n := range g.nodes {
		for _, input := range n.inputs {
			if !seen.Has(input) {
				return fmt.Errorf("graph %q is not topologically sorted: node %q uses %q before its definition",
					g.name, n.name, input.name)
			}
		}
		seen.Insert(n)
	}
	return nil
}
