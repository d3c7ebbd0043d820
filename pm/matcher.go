// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pm

import (
	"sort"

	"github.com/gomlx/graphfusion/ir"
	"github.com/gomlx/graphfusion/types"
)

// DefaultMaxMatchSteps bounds the number of candidate trials per anchor, to
// keep pathological backtracking in check. Exceeding it abandons the anchor;
// the fusion pass surfaces it as a diagnostic, never as an error.
const DefaultMaxMatchSteps = 1 << 16

// Match is a successful binding of every pattern node to a graph operator.
type Match struct {
	// Nodes are the matched operators in binding order, without duplicates.
	Nodes []*ir.OpNode

	// ByName maps pattern node names to the operators they bound. Repetition
	// bodies bind once per iteration, in chain order.
	ByName map[string][]*ir.OpNode
}

// env is the state shared across a matcher and all its nested sub-matchers.
type env struct {
	g       *ir.Graph
	binding map[*Node]*ir.OpNode
	used    types.Set[*ir.OpNode]
	// compOut holds, per completed composite node, the concrete tensor bound
	// to each of its external output ports.
	compOut map[*Node]map[int]*ir.Tensor

	steps          int
	maxSteps       int
	budgetExceeded bool
}

// resolveMode says how the matcher derives candidate operators for a pattern
// node, decided by a BFS over the pattern edges (treated as undirected) from
// the anchor / external ports.
type resolveMode int

const (
	resAnchor   resolveMode = iota // the top-level anchor operator
	resExternal                    // consumers of a sub-matcher's incoming tensor
	resForward                     // consumers of an already-bound producer's output
	resBackward                    // the producer of an already-bound consumer's input
)

type step struct {
	node *Node
	mode resolveMode
	edge Edge  // resForward: edge on node; resBackward: edge on from
	from *Node // resForward: producer; resBackward: consumer
	// resExternal:
	extPort  int
	extInner int
}

// computeOrder derives the match order for pattern g. When buildCheck is
// true, all declared external input ports are assumed available (used by
// Graph.Build to validate reachability); otherwise only the ports present in
// extPorts are roots. Returns ok=false when no root is available.
func computeOrder(g *Graph, extPorts map[int]bool, buildCheck bool) ([]step, bool) {
	var order []step
	bound := make(map[*Node]bool, len(g.nodes))

	push := func(s step) {
		bound[s.node] = true
		order = append(order, s)
	}

	// Roots: the anchor for a top-level match (buildCheck validates both
	// entry styles), plus the targets of available external input ports.
	if buildCheck || extPorts == nil {
		push(step{node: g.nodes[0], mode: resAnchor})
	}
	ports := make([]int, 0, len(g.inPorts))
	for p := range g.inPorts {
		if buildCheck || extPorts[p] {
			ports = append(ports, p)
		}
	}
	sort.Ints(ports)
	for _, p := range ports {
		ref := g.inPorts[p]
		if bound[ref.node] {
			continue
		}
		push(step{node: ref.node, mode: resExternal, extPort: p, extInner: ref.port})
	}
	if len(order) == 0 {
		return nil, false
	}

	// BFS: repeatedly extend from bound nodes, in declaration order, until no
	// progress. Composites are only entered forward, after all their edge
	// producers are bound (their sub-match needs the incoming tensors).
	for changed := true; changed; {
		changed = false
		for qi := 0; qi < len(order); qi++ {
			n := order[qi].node
			for _, x := range g.nodes {
				if bound[x] {
					continue
				}
				if e, ok := edgeFrom(x, n); ok && producersBound(x, bound) {
					push(step{node: x, mode: resForward, edge: e, from: n})
					changed = true
				}
			}
			if n.class != classOp {
				continue
			}
			for _, e := range n.inEdges {
				x := e.Producer
				if !bound[x] && x.class == classOp {
					push(step{node: x, mode: resBackward, edge: e, from: n})
					changed = true
				}
			}
		}
	}
	return order, true
}

// edgeFrom returns x's first declared edge whose producer is n.
func edgeFrom(x, n *Node) (Edge, bool) {
	for _, e := range x.inEdges {
		if e.Producer == n {
			return e, true
		}
	}
	return Edge{}, false
}

// producersBound reports whether every edge producer of x is bound. Op-class
// nodes may bind with pending producers (resolved backward later); composite
// nodes may not.
func producersBound(x *Node, bound map[*Node]bool) bool {
	if x.class == classOp {
		return true
	}
	for _, e := range x.inEdges {
		if !bound[e.Producer] {
			return false
		}
	}
	return true
}

// frame is one choice point on the matcher's explicit stack.
type frame struct {
	step step

	// Op-class frames: candidate iteration.
	candidates []*ir.OpNode
	ci         int
	boundOp    *ir.OpNode

	// Composite frames.
	extIn   map[int]*ir.Tensor
	started bool
	altIdx  int        // classAlternatives: current alternative
	sub     *Matcher   // classAlternatives: current sub-matcher
	iters   []*Matcher // classRepetition: matched iterations
	k       int        // classRepetition: proposed chain length
}

// Matcher binds a pattern graph against an ir.Graph starting from an anchor
// operator. It is a resumable depth-first backtracking search over an
// explicit stack of choice points: Next returns successive complete bindings
// until the search space is exhausted.
//
// With a fixed pattern and graph state, the trial order (candidate operators
// in graph order, alternatives in declaration order, repetition longest
// first, optional present-then-absent) is deterministic, so the first match
// for an anchor is always the same.
type Matcher struct {
	p      *Graph
	env    *env
	anchor *ir.OpNode         // top-level only
	extIn  map[int]*ir.Tensor // sub-matchers only

	order     []step
	stack     []*frame
	matched   bool
	exhausted bool
	topLevel  bool
}

// NewMatcher creates a matcher for pattern p anchored at the given operator.
// The pattern must have been Built (the registry does this at registration).
func NewMatcher(p *Graph, g *ir.Graph, anchor *ir.OpNode) *Matcher {
	p.Build()
	e := &env{
		g:        g,
		binding:  make(map[*Node]*ir.OpNode),
		used:     types.MakeSet[*ir.OpNode](),
		compOut:  make(map[*Node]map[int]*ir.Tensor),
		maxSteps: DefaultMaxMatchSteps,
	}
	m := &Matcher{p: p, env: e, anchor: anchor, topLevel: true}
	order, ok := computeOrder(p, nil, false)
	if !ok || len(order) != len(p.nodes) {
		// Some node is reachable only through a declared external input port;
		// a top-level match has no tensor to feed it, so no binding can cover
		// the whole pattern.
		m.exhausted = true
		return m
	}
	m.order = order
	return m
}

// newSub creates a nested matcher for a sub-pattern fed by the given
// external input tensors, sharing the environment (bindings, injectivity,
// step budget) with the parent.
func (m *Matcher) newSub(p *Graph, extIn map[int]*ir.Tensor) *Matcher {
	avail := make(map[int]bool, len(extIn))
	for port := range extIn {
		avail[port] = true
	}
	sub := &Matcher{p: p, env: m.env, extIn: extIn}
	order, ok := computeOrder(p, avail, false)
	if !ok || len(order) != len(p.nodes) {
		// Not every sub-pattern node is reachable from the bound ports: the
		// sub-pattern cannot match here.
		sub.exhausted = true
		return sub
	}
	sub.order = order
	return sub
}

// BudgetExceeded reports whether the search was abandoned because the
// match-step budget ran out.
func (m *Matcher) BudgetExceeded() bool { return m.env.budgetExceeded }

// Next returns the next complete binding, or false when the search space is
// exhausted. The fusion pass uses only the first binding per anchor.
func (m *Matcher) Next() (*Match, bool) {
	for {
		if !m.run(m.matched) {
			return nil, false
		}
		m.matched = true
		if !m.topLevel || m.connected() {
			break
		}
	}
	match := &Match{ByName: make(map[string][]*ir.OpNode)}
	seen := types.MakeSet[*ir.OpNode]()
	m.collect(match, seen)
	return match, true
}

// run advances the search to the next complete assignment of this matcher's
// order. With resume=true it first backtracks out of the current one.
func (m *Matcher) run(resume bool) bool {
	if m.exhausted {
		return false
	}
	if resume && !m.backtrack() {
		m.exhausted = true
		return false
	}
	for len(m.stack) < len(m.order) {
		f := &frame{step: m.order[len(m.stack)]}
		m.stack = append(m.stack, f)
		m.initFrame(f)
		if !m.nextOption(f) {
			m.stack = m.stack[:len(m.stack)-1]
			if !m.backtrack() {
				m.exhausted = true
				return false
			}
		}
	}
	return true
}

// backtrack finds the deepest frame with another option. Frames without one
// are popped.
func (m *Matcher) backtrack() bool {
	for len(m.stack) > 0 {
		f := m.stack[len(m.stack)-1]
		if m.nextOption(f) {
			return true
		}
		m.stack = m.stack[:len(m.stack)-1]
	}
	return false
}

// abort unwinds all bindings of this matcher without exploring alternatives.
func (m *Matcher) abort() {
	for i := len(m.stack) - 1; i >= 0; i-- {
		m.releaseFrame(m.stack[i])
	}
	m.stack = nil
	m.exhausted = true
}

func (m *Matcher) releaseFrame(f *frame) {
	switch f.step.node.class {
	case classOp:
		if f.boundOp != nil {
			m.unbind(f.step.node, f.boundOp)
			f.boundOp = nil
		}
	case classAlternatives:
		if f.sub != nil {
			f.sub.abort()
			f.sub = nil
		}
		delete(m.env.compOut, f.step.node)
	case classRepetition:
		for i := len(f.iters) - 1; i >= 0; i-- {
			f.iters[i].abort()
		}
		f.iters = nil
		delete(m.env.compOut, f.step.node)
	}
}

func (m *Matcher) initFrame(f *frame) {
	n := f.step.node
	if n.class == classOp {
		f.candidates = m.candidatesFor(f.step)
		return
	}
	// Composite: resolve the external feed from its declared edges plus any
	// graph-level external port targeting it.
	f.extIn = make(map[int]*ir.Tensor, len(n.inEdges))
	for _, e := range n.inEdges {
		if t := m.resolveOut(e.Producer, e.ProducerPort); t != nil {
			f.extIn[e.Port] = t
		}
	}
	for port, ref := range m.p.inPorts {
		if ref.node == n && m.extIn[port] != nil {
			f.extIn[ref.port] = m.extIn[port]
		}
	}
}

// nextOption advances frame f to its next valid option, releasing the
// current one first. Returns false when the frame is exhausted.
func (m *Matcher) nextOption(f *frame) bool {
	switch f.step.node.class {
	case classOp:
		return m.nextOpOption(f)
	case classAlternatives:
		return m.nextAltOption(f)
	default:
		return m.nextRepOption(f)
	}
}

func (m *Matcher) nextOpOption(f *frame) bool {
	if f.boundOp != nil {
		m.unbind(f.step.node, f.boundOp)
		f.boundOp = nil
	}
	for f.ci < len(f.candidates) {
		c := f.candidates[f.ci]
		f.ci++
		if !m.spendStep() {
			return false
		}
		if m.checkCandidate(f.step.node, c) {
			m.bind(f.step.node, c)
			f.boundOp = c
			return true
		}
	}
	return false
}

func (m *Matcher) nextAltOption(f *frame) bool {
	n := f.step.node
	delete(m.env.compOut, n)
	for f.altIdx < len(n.alts) {
		if f.sub == nil {
			f.sub = m.newSub(n.alts[f.altIdx], f.extIn)
			f.started = false
		}
		if f.sub.run(f.started) {
			f.started = true
			out := make(map[int]*ir.Tensor, len(f.sub.p.outPorts))
			for port := range f.sub.p.outPorts {
				out[port] = f.sub.extOut(port)
			}
			m.env.compOut[n] = out
			return true
		}
		f.sub = nil
		f.altIdx++
	}
	return false
}

// nextRepOption enumerates repetition chains longest-first: the first option
// is the longest matchable chain (capped at max); each subsequent option
// resumes the deepest iteration with its next alternative binding and
// greedily re-extends, dropping the iteration only once its alternatives are
// exhausted, so every chain-length/binding combination is tried before the
// composite fails.
func (m *Matcher) nextRepOption(f *frame) bool {
	n := f.step.node
	delete(m.env.compOut, n)
	if !f.started {
		f.started = true
		m.repExtend(f)
		f.k = len(f.iters)
	} else if !m.repNext(f) {
		return false
	}
	for f.k < n.minRep {
		if !m.repNext(f) {
			return false
		}
	}
	m.env.compOut[n] = map[int]*ir.Tensor{0: m.repOut(f)}
	return true
}

// repExtend greedily appends iterations while the body matches and the max
// bound allows.
func (m *Matcher) repExtend(f *frame) {
	n := f.step.node
	for len(f.iters) < n.maxRep {
		in := m.repChainIn(f, len(f.iters))
		if in == nil {
			return
		}
		sub := m.newSub(n.body, map[int]*ir.Tensor{0: in})
		if !sub.run(false) {
			return
		}
		f.iters = append(f.iters, sub)
	}
}

// repNext advances to the next chain configuration: the deepest iteration is
// resumed with an alternative binding and the chain greedily re-extended;
// when the iteration has no alternatives left it is dropped and the shorter
// chain offered. Returns false once the chain is empty.
func (m *Matcher) repNext(f *frame) bool {
	if len(f.iters) == 0 {
		return false
	}
	last := f.iters[len(f.iters)-1]
	if last.run(true) {
		m.repExtend(f)
	} else {
		f.iters = f.iters[:len(f.iters)-1]
	}
	f.k = len(f.iters)
	return true
}

// repChainIn returns the tensor feeding iteration i of the chain.
func (m *Matcher) repChainIn(f *frame, i int) *ir.Tensor {
	if i == 0 {
		return f.extIn[0]
	}
	return f.iters[i-1].extOut(0)
}

// repOut is the tensor bound to the composite's output port 0: the last
// iteration's output, or the incoming tensor when the chain is empty.
func (m *Matcher) repOut(f *frame) *ir.Tensor {
	if f.k == 0 {
		return f.extIn[0]
	}
	return f.iters[f.k-1].extOut(0)
}

// extOut resolves this (sub-)matcher's declared external output port to the
// concrete tensor it bound.
func (m *Matcher) extOut(port int) *ir.Tensor {
	ref, ok := m.p.outPorts[port]
	if !ok {
		return nil
	}
	return m.resolveOut(ref.node, ref.port)
}

// resolveOut returns the tensor produced by pattern node n at the given
// output port under the current bindings, or nil if not (yet) bound.
func (m *Matcher) resolveOut(n *Node, port int) *ir.Tensor {
	if n.class == classOp {
		c := m.env.binding[n]
		if c == nil {
			return nil
		}
		return c.Output(port)
	}
	return m.env.compOut[n][port]
}

// candidatesFor derives the ordered candidate operators for an op-class step.
func (m *Matcher) candidatesFor(s step) []*ir.OpNode {
	switch s.mode {
	case resAnchor:
		return []*ir.OpNode{m.anchor}
	case resExternal:
		t := m.extIn[s.extPort]
		if t == nil {
			return nil
		}
		return consumersAt(t, s.extInner)
	case resForward:
		t := m.resolveOut(s.from, s.edge.ProducerPort)
		if t == nil {
			return nil
		}
		return consumersAt(t, s.edge.Port)
	default: // resBackward
		c := m.env.binding[s.from]
		if c == nil {
			return nil
		}
		t := c.Input(s.edge.Port)
		if t == nil {
			return nil
		}
		prod, prodPort := t.Producer()
		if prod == nil || prodPort != s.edge.ProducerPort {
			return nil
		}
		return []*ir.OpNode{prod}
	}
}

// consumersAt returns the distinct consumers of t that read it at the given
// input port, in graph order.
func consumersAt(t *ir.Tensor, port int) []*ir.OpNode {
	var out []*ir.OpNode
	seen := types.MakeSet[*ir.OpNode]()
	for _, c := range t.Consumers() {
		if seen.Has(c) || c.Input(port) != t {
			continue
		}
		seen.Insert(c)
		out = append(out, c)
	}
	return out
}

// checkCandidate verifies kind membership, injectivity, edge consistency,
// external port constraints, and decision predicates (short-circuit).
func (m *Matcher) checkCandidate(n *Node, c *ir.OpNode) bool {
	kindOK := false
	for _, k := range n.kinds {
		if c.Kind() == k {
			kindOK = true
			break
		}
	}
	if !kindOK || m.env.used.Has(c) {
		return false
	}
	for _, e := range n.inEdges {
		t := m.resolveOut(e.Producer, e.ProducerPort)
		if t == nil {
			continue // producer not bound yet; enforced when it binds.
		}
		if c.Input(e.Port) != t {
			return false
		}
	}
	for port, ref := range m.p.inPorts {
		if ref.node != n {
			continue
		}
		if t := m.extIn[port]; t != nil && c.Input(ref.port) != t {
			return false
		}
	}
	for _, pred := range n.preds {
		if !pred(c) {
			return false
		}
	}
	return true
}

func (m *Matcher) bind(n *Node, c *ir.OpNode) {
	m.env.binding[n] = c
	m.env.used.Insert(c)
}

func (m *Matcher) unbind(n *Node, c *ir.OpNode) {
	delete(m.env.binding, n)
	delete(m.env.used, c)
}

func (m *Matcher) spendStep() bool {
	m.env.steps++
	if m.env.steps > m.env.maxSteps {
		m.env.budgetExceeded = true
		return false
	}
	return true
}

// connected verifies the bound operators form a single connected induced
// subgraph, following producer/consumer edges restricted to the bound set.
func (m *Matcher) connected() bool {
	members := types.MakeSet[*ir.OpNode]()
	match := &Match{ByName: make(map[string][]*ir.OpNode)}
	m.collect(match, members)
	if len(match.Nodes) == 0 {
		return false
	}
	visited := types.SetWith(match.Nodes[0])
	queue := []*ir.OpNode{match.Nodes[0]}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		var neighbors []*ir.OpNode
		for _, t := range c.Inputs() {
			if prod, _ := t.Producer(); prod != nil {
				neighbors = append(neighbors, prod)
			}
		}
		for _, t := range c.Outputs() {
			neighbors = append(neighbors, t.Consumers()...)
		}
		for _, nb := range neighbors {
			if members.Has(nb) && !visited.Has(nb) {
				visited.Insert(nb)
				queue = append(queue, nb)
			}
		}
	}
	return len(visited) == len(members)
}

// collect walks the matcher tree in binding order, filling match and seen.
func (m *Matcher) collect(match *Match, seen types.Set[*ir.OpNode]) {
	for _, f := range m.stack {
		n := f.step.node
		switch n.class {
		case classOp:
			if f.boundOp == nil {
				continue
			}
			match.ByName[n.name] = append(match.ByName[n.name], f.boundOp)
			if !seen.Has(f.boundOp) {
				seen.Insert(f.boundOp)
				match.Nodes = append(match.Nodes, f.boundOp)
			}
		case classAlternatives:
			if f.sub != nil {
				f.sub.collect(match, seen)
			}
		case classRepetition:
			for i := 0; i < f.k && i < len(f.iters); i++ {
				f.iters[i].collect(match, seen)
			}
		}
	}
}
