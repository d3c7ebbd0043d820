// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir holds the computation graph model the fusion engine operates on:
// operator nodes (OpNode) and tensors connected by producer/consumer edges,
// plus the single structural mutation primitive Graph.ReplaceSubgraph.
//
// Nodes and tensors live in an arena addressed by stable integer ids;
// producer/consumer relations are non-owning references, and all structural
// mutation goes through ReplaceSubgraph, which atomically updates every
// affected edge.
//
// Graph construction misuse (nil tensors, tensors from another graph) is
// reported as errors. Violations of the ReplaceSubgraph boundary invariants
// indicate a bug in the caller's partition computation and panic with a stack
// trace (see github.com/gomlx/exceptions).
package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// NodeID is the stable arena id of an OpNode. Ids are never reused, even
// after the node is removed by a fusion.
type NodeID int

// TensorID is the stable arena id of a Tensor.
type TensorID int

// Attributes is the string-keyed attribute mapping attached to every OpNode.
type Attributes map[string]any

// AttrBreakPostFuse is the wire-contract attribute key set by the annotation
// pass (and readable by pattern decision predicates) to forbid an operator
// from being absorbed as an internal node of a later fusion match.
const AttrBreakPostFuse = "break_post_fuse"

// Attribute keys stamped on replacement nodes by the fusion pass.
const (
	AttrPartitionKind = "partition_kind"
	AttrPatternName   = "pattern"
)

// Bool returns the boolean attribute under key, or false if absent or not a
// boolean.
func (a Attributes) Bool(key string) bool {
	v, ok := a[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Str returns the string attribute under key, or "" if absent.
func (a Attributes) Str(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Tensor is a value flowing between operators. It has exactly one producer
// (nil for graph inputs) and zero or more consumers.
type Tensor struct {
	id    TensorID
	graph *Graph

	// Shape may have dynamic dimensions; shape inference belongs to the
	// surrounding compiler, not to the fusion engine.
	Shape Shape

	// Quant is the optional quantization metadata. Nil for non-quantized
	// tensors.
	Quant *Quant

	producer     *OpNode
	producerPort int

	// consumers has one entry per use: an operator consuming this tensor at
	// two input ports appears twice.
	consumers []*OpNode
}

// ID returns the tensor's stable arena id.
func (t *Tensor) ID() TensorID { return t.id }

// Producer returns the operator producing this tensor and the output port it
// comes from. The producer is nil for graph-input tensors.
func (t *Tensor) Producer() (*OpNode, int) { return t.producer, t.producerPort }

// Consumers returns the operators consuming this tensor, one entry per use.
// The returned slice is owned by the graph and must not be mutated.
func (t *Tensor) Consumers() []*OpNode { return t.consumers }

// OpNode is one operator in the graph: a kind tag, attributes, and ordered
// input/output tensors.
type OpNode struct {
	id    NodeID
	graph *Graph
	kind  OpKind

	// Attrs is the operator's attribute mapping. Never nil.
	Attrs Attributes

	inputs  []*Tensor
	outputs []*Tensor
}

// ID returns the node's stable arena id.
func (n *OpNode) ID() NodeID { return n.id }

// Kind returns the operator-kind tag.
func (n *OpNode) Kind() OpKind { return n.kind }

// Inputs returns the ordered input tensors. Owned by the graph.
func (n *OpNode) Inputs() []*Tensor { return n.inputs }

// Outputs returns the ordered output tensors. Owned by the graph.
func (n *OpNode) Outputs() []*Tensor { return n.outputs }

// Input returns the input tensor at the given port, or nil if out of range.
func (n *OpNode) Input(port int) *Tensor {
	if port < 0 || port >= len(n.inputs) {
		return nil
	}
	return n.inputs[port]
}

// Output returns the output tensor at the given port, or nil if out of range.
func (n *OpNode) Output(port int) *Tensor {
	if port < 0 || port >= len(n.outputs) {
		return nil
	}
	return n.outputs[port]
}

// BreakPostFuse reports whether the fusion-break boundary flag is set.
func (n *OpNode) BreakPostFuse() bool {
	return n.Attrs.Bool(AttrBreakPostFuse)
}

// SetBreakPostFuse marks the node as a fusion boundary. Setting it repeatedly
// is a no-op, which keeps the annotation pass idempotent.
func (n *OpNode) SetBreakPostFuse() {
	n.Attrs[AttrBreakPostFuse] = true
}

// String implements fmt.Stringer, e.g. "#3:MaxPool".
func (n *OpNode) String() string {
	return fmt.Sprintf("#%d:%s", n.id, n.kind)
}

// Graph is the arena of operators and tensors for one compilation.
//
// It is not safe for concurrent mutation: the fusion pass assumes exclusive
// access while it runs.
type Graph struct {
	// Arena slots; removed nodes/tensors leave nil holes so ids stay stable.
	nodes   []*OpNode
	tensors []*Tensor
	numOps  int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// NumOps returns the number of live operators.
func (g *Graph) NumOps() int { return g.numOps }

// Node returns the live operator with the given id, or nil.
func (g *Graph) Node(id NodeID) *OpNode {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Ops returns the live operators in id order. The slice is freshly allocated.
func (g *Graph) Ops() []*OpNode {
	ops := make([]*OpNode, 0, g.numOps)
	for _, n := range g.nodes {
		if n != nil {
			ops = append(ops, n)
		}
	}
	return ops
}

// Input creates a graph-input tensor: one with no producer operator.
func (g *Graph) Input(shape Shape) *Tensor {
	return g.newTensor(shape, nil, 0)
}

func (g *Graph) newTensor(shape Shape, producer *OpNode, port int) *Tensor {
	t := &Tensor{
		id:           TensorID(len(g.tensors)),
		graph:        g,
		Shape:        shape,
		producer:     producer,
		producerPort: port,
	}
	g.tensors = append(g.tensors, t)
	return t
}

// AddOp appends an operator consuming the given input tensors, creating one
// output tensor per given shape. If no output shapes are given, a single
// output is created inheriting the first input's shape, a stand-in for the
// per-kind shape inference that lives outside this engine.
func (g *Graph) AddOp(kind OpKind, inputs []*Tensor, outputShapes ...Shape) (*OpNode, error) {
	if kind == OpKindInvalid {
		return nil, errors.Errorf("AddOp: invalid operator kind")
	}
	for i, t := range inputs {
		if t == nil {
			return nil, errors.Errorf("AddOp(%s): input #%d is nil", kind, i)
		}
		if t.graph != g {
			return nil, errors.Errorf("AddOp(%s): input #%d belongs to a different graph", kind, i)
		}
	}
	n := &OpNode{
		id:     NodeID(len(g.nodes)),
		graph:  g,
		kind:   kind,
		Attrs:  make(Attributes),
		inputs: append([]*Tensor(nil), inputs...),
	}
	g.nodes = append(g.nodes, n)
	g.numOps++
	for _, t := range inputs {
		t.consumers = append(t.consumers, n)
	}
	if len(outputShapes) == 0 {
		var shape Shape
		if len(inputs) > 0 {
			shape = inputs[0].Shape.Clone()
		}
		outputShapes = []Shape{shape}
	}
	n.outputs = make([]*Tensor, len(outputShapes))
	for i, shape := range outputShapes {
		n.outputs[i] = g.newTensor(shape, n, i)
	}
	return n, nil
}

// ReplaceSubgraph atomically removes the member operators and splices in one
// replacement operator of the given kind, wired to the given boundary
// tensors in order: the new node consumes inputs and becomes the producer of
// outputs (output port = index in outputs). Tensors strictly internal to the
// member set are removed together with the members.
//
// The boundary must be exhaustive and minimal: every edge crossing into the
// member set appears exactly once in inputs, every tensor leaving the set
// (consumed outside it, or left without consumers) exactly once in outputs,
// and no strictly-internal tensor may be listed. Violations panic: they mean
// the caller's partition computation is buggy, not that the input graph is
// bad.
func (g *Graph) ReplaceSubgraph(members []*OpNode, kind OpKind, attrs Attributes, inputs, outputs []*Tensor) *OpNode {
	if len(members) == 0 {
		exceptions.Panicf("ReplaceSubgraph: empty member set")
	}
	memberSet := make(map[*OpNode]bool, len(members))
	for _, m := range members {
		if m == nil || m.graph != g || g.nodes[m.id] != m {
			exceptions.Panicf("ReplaceSubgraph: member %v is not a live operator of this graph", m)
		}
		if memberSet[m] {
			exceptions.Panicf("ReplaceSubgraph: member %s listed twice", m)
		}
		memberSet[m] = true
	}

	// Collect the edges actually crossing the member-set boundary.
	crossingIn := make(map[*Tensor]bool)
	crossingOut := make(map[*Tensor]bool)
	for _, m := range members {
		for _, t := range m.inputs {
			if t.producer == nil || !memberSet[t.producer] {
				crossingIn[t] = true
			}
		}
		for _, t := range m.outputs {
			external := len(t.consumers) == 0
			for _, c := range t.consumers {
				if !memberSet[c] {
					external = true
					break
				}
			}
			if external {
				crossingOut[t] = true
			}
		}
	}

	// The declared boundary must list each crossing tensor exactly once.
	checkBoundary := func(dir string, declared []*Tensor, crossing map[*Tensor]bool) {
		seen := make(map[*Tensor]bool, len(declared))
		for _, t := range declared {
			if t == nil || t.graph != g || g.tensors[t.id] != t {
				exceptions.Panicf("ReplaceSubgraph: boundary %s tensor is not live in this graph", dir)
			}
			if seen[t] {
				exceptions.Panicf("ReplaceSubgraph: boundary %s tensor t%d listed twice", dir, t.id)
			}
			seen[t] = true
			if !crossing[t] {
				exceptions.Panicf("ReplaceSubgraph: tensor t%d does not cross the partition boundary (%s)", t.id, dir)
			}
		}
		for t := range crossing {
			if !seen[t] {
				exceptions.Panicf("ReplaceSubgraph: boundary %s is missing crossing tensor t%d", dir, t.id)
			}
		}
	}
	checkBoundary("input", inputs, crossingIn)
	checkBoundary("output", outputs, crossingOut)

	// All checks passed: mutate.
	if attrs == nil {
		attrs = make(Attributes)
	}
	n := &OpNode{
		id:     NodeID(len(g.nodes)),
		graph:  g,
		kind:   kind,
		Attrs:  attrs,
		inputs: append([]*Tensor(nil), inputs...),
	}
	g.nodes = append(g.nodes, n)
	g.numOps++

	// Drop member uses from every consumed tensor, then wire the new node.
	for _, m := range members {
		for _, t := range m.inputs {
			t.consumers = removeConsumer(t.consumers, m)
		}
	}
	for _, t := range inputs {
		t.consumers = append(t.consumers, n)
	}
	n.outputs = append([]*Tensor(nil), outputs...)
	for i, t := range outputs {
		t.producer = n
		t.producerPort = i
	}

	// Remove members and strictly-internal tensors.
	for _, m := range members {
		for _, t := range m.outputs {
			if !crossingOut[t] {
				g.tensors[t.id] = nil
			}
		}
		g.nodes[m.id] = nil
		g.numOps--
		m.graph = nil
	}
	return n
}

func removeConsumer(consumers []*OpNode, node *OpNode) []*OpNode {
	out := consumers[:0]
	for _, c := range consumers {
		if c != node {
			out = append(out, c)
		}
	}
	return out
}

// String returns a compact multi-line description of the live graph, one
// operator per line.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, n := range g.Ops() {
		fmt.Fprintf(&sb, "%s(", n)
		for i, t := range n.inputs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "t%d", t.id)
		}
		sb.WriteString(") -> ")
		for i, t := range n.outputs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "t%d", t.id)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
