// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pm implements the pattern-matching engine of the fusion subsystem:
// a declarative builder for pattern graphs (alternation, bounded repetition,
// optional sub-patterns, decision predicates) and a backtracking Matcher that
// binds pattern nodes to operators of an ir.Graph.
//
// Pattern graphs are built once, at pattern-registration time, and are
// immutable afterwards. Declaration errors (bad port references, min > max
// repetition bounds, disconnected nodes) panic with a stack trace when
// Graph.Build is called, never at match time.
package pm

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/ir"
)

// MaxRepetition is the "effectively unbounded" upper repetition bound.
const MaxRepetition = 1 << 30

// Decision is a pure boolean predicate over a bound operator. Decisions must
// be deterministic and side-effect free: the matcher re-evaluates them freely
// while backtracking.
type Decision func(*ir.OpNode) bool

// Edge declares that a node's input port receives the value produced by
// another pattern node at a given output port. Build edges with In.
type Edge struct {
	Port         int
	Producer     *Node
	ProducerPort int
}

// In builds an Edge: input port of the node being appended, the producer
// pattern node, and the producer's output port.
func In(port int, producer *Node, producerPort int) Edge {
	return Edge{Port: port, Producer: producer, ProducerPort: producerPort}
}

type nodeClass int

const (
	classOp nodeClass = iota
	classRepetition
	classAlternatives
)

// Node is one position in a pattern graph. Op-class nodes carry a candidate
// kind set (singleton for an exact match, more for alternation) and decision
// predicates. Composite nodes wrap nested sub-patterns: bounded repetition or
// alternation among whole sub-graphs.
//
// Input ports with no declared Edge are unconstrained: they may bind to
// anything, including operators entirely outside the eventual partition.
type Node struct {
	graph *Graph
	idx   int
	name  string
	class nodeClass

	kinds []ir.OpKind
	preds []Decision

	// Composite payload.
	body           *Graph   // classRepetition
	minRep, maxRep int      // classRepetition (inclusive bounds)
	alts           []*Graph // classAlternatives

	inEdges []Edge
}

// Name returns the declaration name of the node.
func (n *Node) Name() string { return n.name }

// AppendDecision attaches decision predicates to the node. All attached
// predicates must hold for a candidate operator to bind; they are evaluated
// in attachment order and short-circuit on the first failure, so cheap checks
// should be attached first.
func (n *Node) AppendDecision(preds ...Decision) *Node {
	for _, p := range preds {
		if p == nil {
			exceptions.Panicf("pattern %q: nil decision predicate on node %q", n.graph.name, n.name)
		}
	}
	n.preds = append(n.preds, preds...)
	return n
}

type portRef struct {
	node *Node
	port int
}

// Graph is a pattern graph: a DAG of pattern nodes with optional named
// external input/output ports so it can be embedded as a sub-pattern.
//
// The first-declared node is the match anchor and must be an op-class node.
type Graph struct {
	name  string
	nodes []*Node

	inPorts  map[int]portRef
	outPorts map[int]portRef

	built bool
}

// NewGraph creates an empty pattern graph with the given name.
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		inPorts:  make(map[int]portRef),
		outPorts: make(map[int]portRef),
	}
}

// Name returns the pattern graph name.
func (g *Graph) Name() string { return g.name }

func (g *Graph) checkMutable() {
	if g.built {
		exceptions.Panicf("pattern %q: modified after Build", g.name)
	}
}

func (g *Graph) newNode(name string, class nodeClass, edges []Edge) *Node {
	g.checkMutable()
	n := &Node{
		graph: g,
		idx:   len(g.nodes),
		name:  name,
		class: class,
	}
	seen := make(map[int]bool, len(edges))
	for _, e := range edges {
		if e.Port < 0 || e.ProducerPort < 0 {
			exceptions.Panicf("pattern %q: negative port in edge of node %q", g.name, name)
		}
		if e.Producer == nil {
			exceptions.Panicf("pattern %q: nil producer in edge of node %q", g.name, name)
		}
		if e.Producer.graph != g {
			exceptions.Panicf("pattern %q: edge of node %q references node %q from pattern %q",
				g.name, name, e.Producer.name, e.Producer.graph.name)
		}
		if seen[e.Port] {
			exceptions.Panicf("pattern %q: node %q declares input port %d twice", g.name, name, e.Port)
		}
		seen[e.Port] = true
	}
	n.inEdges = append([]Edge(nil), edges...)
	g.nodes = append(g.nodes, n)
	return n
}

// AppendOp appends a node matching exactly one operator kind.
func (g *Graph) AppendOp(kind ir.OpKind, name string, edges ...Edge) *Node {
	return g.AppendAlternation([]ir.OpKind{kind}, name, edges...)
}

// AppendAlternation appends a node matching any one of the candidate kinds.
func (g *Graph) AppendAlternation(kinds []ir.OpKind, name string, edges ...Edge) *Node {
	if len(kinds) == 0 {
		exceptions.Panicf("pattern %q: node %q has an empty kind set", g.name, name)
	}
	n := g.newNode(name, classOp, edges)
	n.kinds = append([]ir.OpKind(nil), kinds...)
	return n
}

// AppendAlternatives appends a composite node matching any one of the nested
// sub-patterns, tried in the given order with full backtracking: a later
// alternative is tried only after all continuations under an earlier one are
// exhausted.
//
// The composite's input/output ports map one-to-one onto the external ports
// declared by each alternative (CreateInputPort / CreateOutputPort).
func (g *Graph) AppendAlternatives(alts []*Graph, name string, edges ...Edge) *Node {
	if len(alts) == 0 {
		exceptions.Panicf("pattern %q: node %q has no alternatives", g.name, name)
	}
	n := g.newNode(name, classAlternatives, edges)
	for _, alt := range alts {
		if alt == nil {
			exceptions.Panicf("pattern %q: nil alternative sub-pattern on node %q", g.name, name)
		}
		alt.Build()
	}
	n.alts = append([]*Graph(nil), alts...)
	return n
}

// AppendRepetition appends a composite node matching a chain of min to max
// (inclusive) consecutive instances of the body sub-pattern; use
// MaxRepetition for an unbounded max. The body must declare external input
// port 0 and output port 0; each iteration's input port 0 receives the
// previous iteration's output port 0 (the first receives the composite's
// input edge). Matching is greedy: the longest chain is tried first; on
// backtracking, each iteration's alternative bindings are revisited before
// the chain shrinks, down to min.
func (g *Graph) AppendRepetition(body *Graph, min, max int, name string, edges ...Edge) *Node {
	if body == nil {
		exceptions.Panicf("pattern %q: nil repetition body on node %q", g.name, name)
	}
	if min < 0 || min > max {
		exceptions.Panicf("pattern %q: node %q has invalid repetition bounds [%d, %d]", g.name, name, min, max)
	}
	body.Build()
	if _, ok := body.inPorts[0]; !ok {
		exceptions.Panicf("pattern %q: repetition body %q does not declare input port 0", g.name, body.name)
	}
	if _, ok := body.outPorts[0]; !ok {
		exceptions.Panicf("pattern %q: repetition body %q does not declare output port 0", g.name, body.name)
	}
	n := g.newNode(name, classRepetition, edges)
	if _, ok := findEdge(n.inEdges, 0); !ok {
		exceptions.Panicf("pattern %q: repetition node %q needs an edge into port 0", g.name, name)
	}
	n.body = body
	n.minRep, n.maxRep = min, max
	return n
}

// AppendOptional appends an optional sub-pattern: a repetition with bounds
// [0, 1]. Trial order is present-then-absent.
func (g *Graph) AppendOptional(body *Graph, name string, edges ...Edge) *Node {
	return g.AppendRepetition(body, 0, 1, name, edges...)
}

// CreateInputPort declares external input port `port`: when this graph is
// embedded as a sub-pattern, whatever feeds the composite's input `port`
// must feed `nodePort` of `node`.
func (g *Graph) CreateInputPort(port int, node *Node, nodePort int) {
	g.declarePort(g.inPorts, "input", port, node, nodePort)
}

// CreateOutputPort declares external output port `port`, produced by
// `nodePort` of `node`.
func (g *Graph) CreateOutputPort(port int, node *Node, nodePort int) {
	g.declarePort(g.outPorts, "output", port, node, nodePort)
}

func (g *Graph) declarePort(ports map[int]portRef, dir string, port int, node *Node, nodePort int) {
	g.checkMutable()
	if port < 0 || nodePort < 0 {
		exceptions.Panicf("pattern %q: negative %s port", g.name, dir)
	}
	if node == nil || node.graph != g {
		exceptions.Panicf("pattern %q: %s port %d references an undeclared node", g.name, dir, port)
	}
	if _, ok := ports[port]; ok {
		exceptions.Panicf("pattern %q: %s port %d declared twice", g.name, dir, port)
	}
	ports[port] = portRef{node: node, port: nodePort}
}

// AnchorKinds returns the candidate kind set of the anchor (first-declared)
// node, used by the fusion pass to pre-filter anchor operators.
func (g *Graph) AnchorKinds() []ir.OpKind {
	g.Build()
	return g.nodes[0].kinds
}

// Build finalizes and validates the pattern. It is idempotent and is invoked
// by the pattern registry at registration time, so all declaration errors are
// fatal before any compilation proceeds.
func (g *Graph) Build() {
	if g.built {
		return
	}
	if len(g.nodes) == 0 {
		exceptions.Panicf("pattern %q: empty pattern graph", g.name)
	}
	if g.nodes[0].class != classOp {
		exceptions.Panicf("pattern %q: anchor node %q must match operator kinds, not a sub-pattern",
			g.name, g.nodes[0].name)
	}
	// Every node must be reachable from the anchor and the declared external
	// input ports, or the matcher could never bind it.
	order, ok := computeOrder(g, nil, true)
	if !ok || len(order) != len(g.nodes) {
		bound := make(map[*Node]bool, len(order))
		for _, s := range order {
			bound[s.node] = true
		}
		for _, n := range g.nodes {
			if !bound[n] {
				exceptions.Panicf("pattern %q: node %q is not connected to the rest of the pattern", g.name, n.name)
			}
		}
		exceptions.Panicf("pattern %q: unmatchable pattern graph", g.name)
	}
	g.built = true
}

func findEdge(edges []Edge, port int) (Edge, bool) {
	for _, e := range edges {
		if e.Port == port {
			return e, true
		}
	}
	return Edge{}, false
}
