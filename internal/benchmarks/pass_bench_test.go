// Package benchmarks measures the rewrite pass over synthetic graphs of
// growing size.
//
// The benchmarks are skipped by default; run them with:
//
//	go test ./internal/benchmarks -run TestBenchAddRuntimeAssertions -bench_guard
package benchmarks

import (
	"flag"
	"fmt"
	"testing"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeguard/guard"
	"github.com/gomlx/shapeguard/ir"
	"github.com/gomlx/shapeguard/sym"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
)

var flagBenchGuard = flag.Bool("bench_guard", false, "run the shape-assertion pass benchmarks")

// buildSyntheticGraph creates a chain of numOps unary ops over one dynamic
// input; every 8th op result carries an inline-constrained symbol, so the
// pass exercises both the cheap skip path and the synthesis path.
func buildSyntheticGraph(numOps int) (*ir.Graph, *guard.Meta) {
	meta := guard.NewMeta().
		WithExampleInput("x", shapes.Make(dtypes.Float32, 32, 128)).
		WithRange("x", 0, sym.Int(4), sym.PosInf())
	g := ir.New(fmt.Sprintf("synthetic_%d", numOps))
	prev := g.Input("x", ir.Tensor(dtypes.Float32, ir.SymDim(sym.Symbol("batch")), ir.StaticDim(128)))
	for i := 0; i < numOps; i++ {
		var val *ir.Value
		if i%8 == 0 {
			u := sym.Symbol(fmt.Sprintf("bench_u%d", i))
			meta.WithInlineConstraint(u, sym.Int(1), sym.Int(4096))
			val = ir.Tensor(dtypes.Float32, ir.SymDim(u), ir.StaticDim(128))
		}
		prev = g.Op("Relu", val, prev)
	}
	return g, meta
}

func TestBenchAddRuntimeAssertions(t *testing.T) {
	if !*flagBenchGuard {
		t.Skip("skipping pass benchmarks, use -bench_guard to run them")
	}
	for idx, numOps := range []int{16, 128, 1024} {
		benchFn := benchmarks.NamedFunction{
			Name: fmt.Sprintf("%s/ops=%04d", t.Name(), numOps),
			Func: func() {
				// Graph construction is part of the measured cost: the pass
				// mutates the graph, so each run needs a fresh one.
				g, meta := buildSyntheticGraph(numOps)
				_ = must.M1(guard.AddRuntimeAssertions(g, meta))
			},
		}
		benchmarks.New(benchFn).
			WithWarmUps(16).
			WithHeader(idx == 0).
			Done()
	}
}
