package ir

import (
	"bytes"
	"fmt"
)

// String implements fmt.Stringer, and pretty prints the graph, one node per
// line in topological order.
func (g *Graph) String() string {
	var buf bytes.Buffer
	// w writes lines to the buffer.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Graph %q: %d nodes, %d inputs\n", g.name, len(g.nodes), len(g.inputs))
	for _, n := range g.nodes {
		w("\t%s\n", n.describe())
	}
	return buf.String()
}

// describe formats one node with its operands and attributes.
func (n *Node) describe() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s = %s", n.name, n.op)
	switch n.op {
	case OpSizeOf, OpTupleGet:
		fmt.Fprintf(&buf, "[%d]", n.dim)
	case OpCompare:
		fmt.Fprintf(&buf, "[%s]", n.cmp)
	}
	buf.WriteString("(")
	for i, input := range n.inputs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(input.name)
	}
	switch n.op {
	case OpConst:
		fmt.Fprintf(&buf, "%d", n.literal)
	case OpAssertMsg:
		fmt.Fprintf(&buf, ", %q", n.message)
	}
	buf.WriteString(")")
	if n.val != nil {
		fmt.Fprintf(&buf, " -> %s", n.val)
	}
	return buf.String()
}
