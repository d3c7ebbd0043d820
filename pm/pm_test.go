// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pm

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/graphfusion/ir"
)

func TestBuilderDeclarationErrors(t *testing.T) {
	newOpGraph := func() (*Graph, *Node) {
		g := NewGraph("test")
		n := g.AppendOp(ir.OpKindMaxPool, "pool")
		return g, n
	}

	t.Run("empty kind set", func(t *testing.T) {
		g := NewGraph("test")
		require.Panics(t, func() { g.AppendAlternation(nil, "empty") })
	})
	t.Run("min greater than max", func(t *testing.T) {
		g, pool := newOpGraph()
		body := chainBody()
		require.Panics(t, func() { g.AppendRepetition(body, 2, 1, "rep", In(0, pool, 0)) })
	})
	t.Run("negative min", func(t *testing.T) {
		g, pool := newOpGraph()
		require.Panics(t, func() { g.AppendRepetition(chainBody(), -1, 1, "rep", In(0, pool, 0)) })
	})
	t.Run("repetition without input edge", func(t *testing.T) {
		g, _ := newOpGraph()
		require.Panics(t, func() { g.AppendRepetition(chainBody(), 1, 2, "rep") })
	})
	t.Run("repetition body missing ports", func(t *testing.T) {
		g, pool := newOpGraph()
		body := NewGraph("body")
		body.AppendOp(ir.OpKindAdd, "add")
		require.Panics(t, func() { g.AppendRepetition(body, 1, 2, "rep", In(0, pool, 0)) })
	})
	t.Run("nil producer edge", func(t *testing.T) {
		g, _ := newOpGraph()
		require.Panics(t, func() { g.AppendOp(ir.OpKindAdd, "add", Edge{Port: 0}) })
	})
	t.Run("foreign producer edge", func(t *testing.T) {
		g, _ := newOpGraph()
		_, foreign := newOpGraph()
		require.Panics(t, func() { g.AppendOp(ir.OpKindAdd, "add", In(0, foreign, 0)) })
	})
	t.Run("duplicate input port", func(t *testing.T) {
		g, pool := newOpGraph()
		require.Panics(t, func() {
			g.AppendOp(ir.OpKindAdd, "add", In(0, pool, 0), In(0, pool, 0))
		})
	})
	t.Run("port declared twice", func(t *testing.T) {
		g, pool := newOpGraph()
		g.CreateOutputPort(0, pool, 0)
		require.Panics(t, func() { g.CreateOutputPort(0, pool, 0) })
	})
	t.Run("disconnected node", func(t *testing.T) {
		g, _ := newOpGraph()
		g.AppendOp(ir.OpKindRelu, "floating")
		require.Panics(t, func() { g.Build() })
	})
	t.Run("composite anchor", func(t *testing.T) {
		g := NewGraph("test")
		alt := NewGraph("alt")
		q := alt.AppendOp(ir.OpKindQuantize, "q")
		alt.CreateInputPort(0, q, 0)
		alt.CreateOutputPort(0, q, 0)
		g.AppendAlternatives([]*Graph{alt}, "anchor")
		require.Panics(t, func() { g.Build() })
	})
	t.Run("mutation after build", func(t *testing.T) {
		g, _ := newOpGraph()
		g.Build()
		require.Panics(t, func() { g.AppendOp(ir.OpKindRelu, "late") })
	})
}

// chainBody returns a single-binary-op sub-pattern with ports 0/0, the shape
// used by repetition tests.
func chainBody() *Graph {
	body := NewGraph("binary_body")
	b := body.AppendAlternation(
		[]ir.OpKind{ir.OpKindAdd, ir.OpKindMultiply, ir.OpKindSubtract}, "pbinary")
	body.CreateInputPort(0, b, 0)
	body.CreateOutputPort(0, b, 0)
	return body
}

func f32(dims ...int) ir.Shape { return ir.MakeShape(dtypes.Float32, dims...) }

func mustOp(t *testing.T, g *ir.Graph, kind ir.OpKind, inputs ...*ir.Tensor) *ir.OpNode {
	op, err := g.AddOp(kind, inputs)
	require.NoError(t, err)
	return op
}

// poolChainGraph builds t0 -> Dequantize -> MaxPool -> Quantize.
func poolChainGraph(t *testing.T) (*ir.Graph, []*ir.OpNode) {
	g := ir.New()
	t0 := g.Input(ir.MakeShape(dtypes.Int8, 1, 8, 8))
	dq := mustOp(t, g, ir.OpKindDequantize, t0)
	pool := mustOp(t, g, ir.OpKindMaxPool, dq.Output(0))
	q := mustOp(t, g, ir.OpKindQuantize, pool.Output(0))
	return g, []*ir.OpNode{dq, pool, q}
}

// int8PoolPattern is dequantize -> {AvgPool|MaxPool} -> quantize.
func int8PoolPattern() *Graph {
	p := NewGraph("int8_pool")
	dq := p.AppendOp(ir.OpKindDequantize, "pdequant")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool",
		In(0, dq, 0))
	p.AppendOp(ir.OpKindQuantize, "pquantize", In(0, pool, 0))
	return p
}

func TestMatcherChain(t *testing.T) {
	g, ops := poolChainGraph(t)
	m := NewMatcher(int8PoolPattern(), g, ops[0])
	match, ok := m.Next()
	require.True(t, ok)
	require.Equal(t, ops, match.Nodes)
	require.Equal(t, []*ir.OpNode{ops[1]}, match.ByName["ppool"])

	// Exhausted after the single binding.
	_, ok = m.Next()
	require.False(t, ok)
}

func TestMatcherAlternation(t *testing.T) {
	for _, kind := range []ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool} {
		g := ir.New()
		dq := mustOp(t, g, ir.OpKindDequantize, g.Input(f32(4)))
		pool := mustOp(t, g, kind, dq.Output(0))
		mustOp(t, g, ir.OpKindQuantize, pool.Output(0))
		_, ok := NewMatcher(int8PoolPattern(), g, dq).Next()
		require.True(t, ok, "alternation should accept %s", kind)
	}

	// A third kind at the pool position must not match.
	g := ir.New()
	dq := mustOp(t, g, ir.OpKindDequantize, g.Input(f32(4)))
	relu := mustOp(t, g, ir.OpKindRelu, dq.Output(0))
	mustOp(t, g, ir.OpKindQuantize, relu.Output(0))
	_, ok := NewMatcher(int8PoolPattern(), g, dq).Next()
	require.False(t, ok)
}

func TestMatcherPredicate(t *testing.T) {
	p := NewGraph("pred")
	dq := p.AppendOp(ir.OpKindDequantize, "pdequant")
	dq.AppendDecision(ZeroPointsEqual(0))
	p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool", In(0, dq, 0))

	build := func(zp int64) (*ir.Graph, *ir.OpNode) {
		g := ir.New()
		t0 := g.Input(ir.MakeShape(dtypes.Int8, 4))
		t0.Quant = ir.PerTensorQuant(0.1, zp)
		dqOp := mustOp(t, g, ir.OpKindDequantize, t0)
		mustOp(t, g, ir.OpKindMaxPool, dqOp.Output(0))
		return g, dqOp
	}

	g, anchor := build(0)
	_, ok := NewMatcher(p, g, anchor).Next()
	require.True(t, ok)

	g, anchor = build(5)
	_, ok = NewMatcher(p, g, anchor).Next()
	require.False(t, ok, "nonzero zero-point must fail the predicate")
}

func TestDecisionPredicates(t *testing.T) {
	g := ir.New()
	pool := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	relu := mustOp(t, g, ir.OpKindRelu, pool.Output(0))
	mustOp(t, g, ir.OpKindAdd, pool.Output(0), g.Input(f32(4)))
	mustOp(t, g, ir.OpKindQuantize, relu.Output(0))

	require.True(t, KindIs(ir.OpKindAvgPool, ir.OpKindMaxPool)(pool))
	require.False(t, KindIs(ir.OpKindAvgPool)(pool))

	require.True(t, NoBreakPostFuse(pool))
	pool.SetBreakPostFuse()
	require.False(t, NoBreakPostFuse(pool))

	require.True(t, HasSingleConsumer(0)(relu))  // only the quantize
	require.False(t, HasSingleConsumer(0)(pool)) // relu and add
	require.False(t, HasSingleConsumer(1)(relu)) // no such port

	t0 := g.Input(ir.MakeShape(dtypes.Int8, 4))
	t0.Quant = ir.PerTensorQuant(0.1, 0)
	dq := mustOp(t, g, ir.OpKindDequantize, t0)
	require.True(t, QuantPerTensorAllPorts(dq))
	t0.Quant = ir.PerChannelQuant([]float64{0.1, 0.2}, []int64{0, 0})
	require.False(t, QuantPerTensorAllPorts(dq))
}

func TestMatcherBackwardBinding(t *testing.T) {
	// padd's input 1 is declared to come from pdq_other, which can only be
	// resolved backward, from the already-bound padd.
	p := NewGraph("binary")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool")
	other := p.AppendOp(ir.OpKindDequantize, "pdq_other")
	p.AppendOp(ir.OpKindAdd, "padd", In(0, pool, 0), In(1, other, 0))

	g := ir.New()
	poolOp := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	dqOp := mustOp(t, g, ir.OpKindDequantize, g.Input(ir.MakeShape(dtypes.Int8, 4)))
	mustOp(t, g, ir.OpKindAdd, poolOp.Output(0), dqOp.Output(0))

	match, ok := NewMatcher(p, g, poolOp).Next()
	require.True(t, ok)
	require.Equal(t, []*ir.OpNode{dqOp}, match.ByName["pdq_other"])

	// Swapped add inputs no longer satisfy the declared ports.
	g2 := ir.New()
	poolOp2 := mustOp(t, g2, ir.OpKindMaxPool, g2.Input(f32(4)))
	dqOp2 := mustOp(t, g2, ir.OpKindDequantize, g2.Input(ir.MakeShape(dtypes.Int8, 4)))
	mustOp(t, g2, ir.OpKindAdd, dqOp2.Output(0), poolOp2.Output(0))
	_, ok = NewMatcher(p, g2, poolOp2).Next()
	require.False(t, ok)
}

// repetitionPattern is pool followed by a [min, max] chain of binary ops.
func repetitionPattern(min, max int) *Graph {
	p := NewGraph("rep")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool")
	p.AppendRepetition(chainBody(), min, max, "prepetition", In(0, pool, 0))
	return p
}

// binaryChainGraph builds pool followed by n chained Add ops (each with a
// free second input) and a final Relu consumer.
func binaryChainGraph(t *testing.T, n int) (*ir.Graph, *ir.OpNode) {
	g := ir.New()
	pool := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	cur := pool.Output(0)
	for i := 0; i < n; i++ {
		add := mustOp(t, g, ir.OpKindAdd, cur, g.Input(f32(4)))
		cur = add.Output(0)
	}
	mustOp(t, g, ir.OpKindRelu, cur)
	return g, pool
}

func TestMatcherRepetitionBounds(t *testing.T) {
	pattern := repetitionPattern(1, 3)
	for chainLen, wantMembers := range map[int]int{1: 2, 2: 3, 3: 4} {
		g, anchor := binaryChainGraph(t, chainLen)
		match, ok := NewMatcher(pattern, g, anchor).Next()
		require.True(t, ok, "chain of length %d should match", chainLen)
		require.Len(t, match.Nodes, wantMembers)
	}

	// Length 0 is below the min bound.
	g, anchor := binaryChainGraph(t, 0)
	_, ok := NewMatcher(pattern, g, anchor).Next()
	require.False(t, ok)

	// Length 4 is matched greedily up to the max bound of 3.
	g, anchor = binaryChainGraph(t, 4)
	match, ok := NewMatcher(pattern, g, anchor).Next()
	require.True(t, ok)
	require.Len(t, match.Nodes, 4) // pool + 3 binaries
}

func TestMatcherUnboundedRepetition(t *testing.T) {
	pattern := repetitionPattern(1, MaxRepetition)
	g, anchor := binaryChainGraph(t, 7)
	match, ok := NewMatcher(pattern, g, anchor).Next()
	require.True(t, ok)
	require.Len(t, match.Nodes, 8)
}

func TestMatcherRepetitionRevisitsIterationBindings(t *testing.T) {
	// The greedy chain binds a dead-end branch first; once the trailing
	// quantize fails there, the deepest iteration must re-bind to the sibling
	// branch rather than the chain merely shrinking past the valid match.
	p := NewGraph("rep_then_quant")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool")
	rep := p.AppendRepetition(chainBody(), 1, 2, "prepetition", In(0, pool, 0))
	p.AppendOp(ir.OpKindQuantize, "pquantize", In(0, rep, 0))

	g := ir.New()
	poolOp := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	a1 := mustOp(t, g, ir.OpKindAdd, poolOp.Output(0), g.Input(f32(4)))
	deadEnd := mustOp(t, g, ir.OpKindAdd, a1.Output(0), g.Input(f32(4)))
	b2 := mustOp(t, g, ir.OpKindAdd, a1.Output(0), g.Input(f32(4)))
	qOp := mustOp(t, g, ir.OpKindQuantize, b2.Output(0))

	match, ok := NewMatcher(p, g, poolOp).Next()
	require.True(t, ok)
	require.Equal(t, []*ir.OpNode{poolOp, a1, b2, qOp}, match.Nodes)
	require.NotContains(t, match.Nodes, deadEnd)
}

func TestMatcherTopLevelNeedsFullCoverage(t *testing.T) {
	// A node reachable only through a declared external input port can never
	// bind in a top-level match; the matcher must report no match rather than
	// a binding covering part of the pattern.
	p := NewGraph("ext_fed")
	p.AppendOp(ir.OpKindMaxPool, "ppool")
	q := p.AppendOp(ir.OpKindQuantize, "pquantize")
	p.CreateInputPort(0, q, 0)

	g := ir.New()
	poolOp := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	_, ok := NewMatcher(p, g, poolOp).Next()
	require.False(t, ok)
}

func TestMatcherOptional(t *testing.T) {
	p := NewGraph("opt")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool")
	reshapeBody := NewGraph("reshape_body")
	r := reshapeBody.AppendAlternation(
		[]ir.OpKind{ir.OpKindStaticReshape, ir.OpKindStaticTranspose}, "preshape")
	reshapeBody.CreateInputPort(0, r, 0)
	reshapeBody.CreateOutputPort(0, r, 0)
	popt := p.AppendOptional(reshapeBody, "poptional", In(0, pool, 0))
	p.AppendOp(ir.OpKindQuantize, "pquantize", In(0, popt, 0))

	// Present: pool -> reshape -> quantize.
	g := ir.New()
	poolOp := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	reshapeOp := mustOp(t, g, ir.OpKindStaticReshape, poolOp.Output(0))
	qOp := mustOp(t, g, ir.OpKindQuantize, reshapeOp.Output(0))
	match, ok := NewMatcher(p, g, poolOp).Next()
	require.True(t, ok)
	require.Equal(t, []*ir.OpNode{poolOp, reshapeOp, qOp}, match.Nodes)

	// Absent: pool -> quantize; the optional's output passes through.
	g2 := ir.New()
	poolOp2 := mustOp(t, g2, ir.OpKindMaxPool, g2.Input(f32(4)))
	qOp2 := mustOp(t, g2, ir.OpKindQuantize, poolOp2.Output(0))
	match, ok = NewMatcher(p, g2, poolOp2).Next()
	require.True(t, ok)
	require.Equal(t, []*ir.OpNode{poolOp2, qOp2}, match.Nodes)
}

func TestMatcherAlternatives(t *testing.T) {
	p := NewGraph("alts")
	pool := p.AppendAlternation([]ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}, "ppool")

	onlyQuant := NewGraph("only_quant")
	q1 := onlyQuant.AppendOp(ir.OpKindQuantize, "pquantize")
	onlyQuant.CreateInputPort(0, q1, 0)
	onlyQuant.CreateOutputPort(0, q1, 0)

	reshapeQuant := NewGraph("reshape_quant")
	r := reshapeQuant.AppendOp(ir.OpKindStaticReshape, "preshape")
	q2 := reshapeQuant.AppendOp(ir.OpKindQuantize, "pquantize", In(0, r, 0))
	reshapeQuant.CreateInputPort(0, r, 0)
	reshapeQuant.CreateOutputPort(0, q2, 0)

	p.AppendAlternatives([]*Graph{onlyQuant, reshapeQuant}, "ppostops", In(0, pool, 0))

	// The first alternative shape.
	g := ir.New()
	poolOp := mustOp(t, g, ir.OpKindMaxPool, g.Input(f32(4)))
	mustOp(t, g, ir.OpKindQuantize, poolOp.Output(0))
	match, ok := NewMatcher(p, g, poolOp).Next()
	require.True(t, ok)
	require.Len(t, match.Nodes, 2)

	// The second alternative shape: the first is tried and fails.
	g2 := ir.New()
	poolOp2 := mustOp(t, g2, ir.OpKindMaxPool, g2.Input(f32(4)))
	reshapeOp := mustOp(t, g2, ir.OpKindStaticReshape, poolOp2.Output(0))
	mustOp(t, g2, ir.OpKindQuantize, reshapeOp.Output(0))
	match, ok = NewMatcher(p, g2, poolOp2).Next()
	require.True(t, ok)
	require.Len(t, match.Nodes, 3)

	// Neither shape present.
	g3 := ir.New()
	poolOp3 := mustOp(t, g3, ir.OpKindMaxPool, g3.Input(f32(4)))
	mustOp(t, g3, ir.OpKindRelu, poolOp3.Output(0))
	_, ok = NewMatcher(p, g3, poolOp3).Next()
	require.False(t, ok)
}

func TestMatcherLocality(t *testing.T) {
	// Matching S inside a larger graph G must yield the same binding as
	// matching a graph holding only S.
	pattern := int8PoolPattern()

	g := ir.New()
	noise := mustOp(t, g, ir.OpKindConvolution, g.Input(f32(8)), g.Input(f32(8)))
	dq := mustOp(t, g, ir.OpKindDequantize, noise.Output(0))
	pool := mustOp(t, g, ir.OpKindMaxPool, dq.Output(0))
	mustOp(t, g, ir.OpKindRelu, pool.Output(0)) // extra consumer outside S
	q := mustOp(t, g, ir.OpKindQuantize, pool.Output(0))
	mustOp(t, g, ir.OpKindRelu, q.Output(0))

	matchG, ok := NewMatcher(pattern, g, dq).Next()
	require.True(t, ok)

	s, opsS := poolChainGraph(t)
	matchS, ok := NewMatcher(pattern, s, opsS[0]).Next()
	require.True(t, ok)

	require.Len(t, matchG.Nodes, len(matchS.Nodes))
	for i := range matchG.Nodes {
		require.Equal(t, matchS.Nodes[i].Kind(), matchG.Nodes[i].Kind())
	}
	for name, nodes := range matchS.ByName {
		require.Len(t, matchG.ByName[name], len(nodes), "binding for %q differs", name)
	}
}

func TestMatcherStepBudget(t *testing.T) {
	g, ops := poolChainGraph(t)
	m := NewMatcher(int8PoolPattern(), g, ops[0])
	m.env.maxSteps = 2 // dequantize and pool fit, quantize does not
	_, ok := m.Next()
	require.False(t, ok)
	require.True(t, m.BudgetExceeded())

	// The default budget is ample for the same search.
	m = NewMatcher(int8PoolPattern(), g, ops[0])
	_, ok = m.Next()
	require.True(t, ok)
	require.False(t, m.BudgetExceeded())
}

func TestMatcherInjective(t *testing.T) {
	// A pattern with two distinct nodes cannot bind both to one operator.
	p := NewGraph("two_adds")
	a1 := p.AppendOp(ir.OpKindAdd, "padd1")
	p.AppendOp(ir.OpKindAdd, "padd2", In(0, a1, 0))

	g := ir.New()
	add := mustOp(t, g, ir.OpKindAdd, g.Input(f32(4)), g.Input(f32(4)))
	_, ok := NewMatcher(p, g, add).Next()
	require.False(t, ok)

	add2 := mustOp(t, g, ir.OpKindAdd, add.Output(0), g.Input(f32(4)))
	m, ok := NewMatcher(p, g, add).Next()
	require.True(t, ok)
	require.Equal(t, []*ir.OpNode{add, add2}, m.Nodes)
}
