// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphfusion/ir"
	"github.com/gomlx/graphfusion/pm"
	"github.com/gomlx/graphfusion/types"
)

// Partition is a matched, connected subgraph slated for replacement by one
// fused operator. It is transient: produced by a successful match, consumed
// by Graph.ReplaceSubgraph, then only kept as a record of what was fused.
type Partition struct {
	// ID keys the partition for downstream consumers.
	ID uuid.UUID

	// Pattern is the name of the registered pattern that matched.
	Pattern string

	// Kind is the pattern's partition-kind tag.
	Kind string

	// Members are the matched operators in binding order. After the
	// partition is applied, these are detached from the graph.
	Members []*ir.OpNode

	// Inputs and Outputs are the ordered boundary tensors: the tensors
	// crossing into and out of the member set, each exactly once per
	// direction.
	Inputs, Outputs []*ir.Tensor

	// Kernel is the kernel-factory result for this partition.
	Kernel Kernel

	// Replacement is the fused operator spliced into the graph.
	Replacement *ir.OpNode
}

// Run performs one fusion sweep over the graph: every registered pattern
// whose engine kind is EngineAny or matches cfg.Engine is tried, in priority
// order, against every operator whose kind is in the pattern's anchor set.
// Accepted partitions are applied immediately, mutating the graph in place,
// so lower-priority patterns scan the already-rewritten graph. The pass does
// not iterate to a fixpoint: it is a single sweep.
//
// No other code may read or mutate the graph while Run executes.
func (r *Registry) Run(g *ir.Graph, cfg PassConfig) []*Partition {
	var applied []*Partition
	consumed := types.MakeSet[ir.NodeID]()

	for _, pat := range r.sorted() {
		if pat.Engine != EngineAny && pat.Engine != cfg.Engine {
			continue
		}
		anchorKinds := types.SetWith(pat.pattern.AnchorKinds()...)

		// Snapshot: applying a partition mutates the arena mid-scan.
		for _, anchor := range g.Ops() {
			if !anchorKinds.Has(anchor.Kind()) {
				continue
			}
			if g.Node(anchor.ID()) != anchor {
				continue // removed by an earlier partition in this sweep.
			}
			m := pm.NewMatcher(pat.pattern, g, anchor)
			match, ok := m.Next()
			if m.BudgetExceeded() {
				klog.V(2).Infof("fusion: pattern %q at anchor %s: match budget exhausted, anchor skipped",
					pat.Name, anchor)
			}
			if !ok {
				continue
			}
			part, reject := r.makePartition(pat, match, g, consumed)
			if reject != "" {
				klog.V(2).Infof("fusion: pattern %q at anchor %s: discarded (%s)", pat.Name, anchor, reject)
				continue
			}
			r.apply(g, pat, part, consumed)
			applied = append(applied, part)
		}
	}
	return applied
}

// Run performs a fusion sweep using the Default registry.
func Run(g *ir.Graph, cfg PassConfig) []*Partition {
	return Default.Run(g, cfg)
}

// makePartition computes the boundary of a match and validates it against
// previously consumed operators and fusion-break flags. A non-empty reject
// reason means the match is discarded (lower priority loses, silently).
func (r *Registry) makePartition(pat *RegisteredPattern, match *pm.Match, g *ir.Graph,
	consumed types.Set[ir.NodeID]) (*Partition, string) {
	memberSet := types.SetWith(match.Nodes...)
	for _, m := range match.Nodes {
		if consumed.Has(m.ID()) || g.Node(m.ID()) != m {
			return nil, "overlaps a higher-priority partition"
		}
	}

	// Boundary tensors in discovery order over members in binding order,
	// deduplicated: once per tensor per direction.
	var inputs, outputs []*ir.Tensor
	seenIn := types.MakeSet[*ir.Tensor]()
	for _, m := range match.Nodes {
		for _, t := range m.Inputs() {
			prod, _ := t.Producer()
			if (prod == nil || !memberSet.Has(prod)) && !seenIn.Has(t) {
				seenIn.Insert(t)
				inputs = append(inputs, t)
			}
		}
	}
	for _, m := range match.Nodes {
		for _, t := range m.Outputs() {
			external := len(t.Consumers()) == 0
			for _, c := range t.Consumers() {
				if !memberSet.Has(c) {
					external = true
					break
				}
			}
			if external {
				outputs = append(outputs, t)
			}
		}
	}

	// A member flagged break_post_fuse may only sit on the partition's
	// output boundary; absorbing it as an internal node is forbidden.
	boundaryProducers := types.MakeSet[*ir.OpNode]()
	for _, t := range outputs {
		prod, _ := t.Producer()
		boundaryProducers.Insert(prod)
	}
	for _, m := range match.Nodes {
		if m.BreakPostFuse() && !boundaryProducers.Has(m) {
			return nil, "would absorb a break_post_fuse operator as internal"
		}
	}

	part := &Partition{
		ID:      uuid.New(),
		Pattern: pat.Name,
		Kind:    pat.PartitionKind,
		Members: match.Nodes,
		Inputs:  inputs,
		Outputs: outputs,
	}
	return part, ""
}

// apply invokes the kernel factory and splices the fused operator in.
func (r *Registry) apply(g *ir.Graph, pat *RegisteredPattern, part *Partition, consumed types.Set[ir.NodeID]) {
	part.Kernel = pat.CreateKernel(part)
	attrs := ir.Attributes{
		ir.AttrPartitionKind: part.Kind,
		ir.AttrPatternName:   part.Pattern,
	}
	part.Replacement = g.ReplaceSubgraph(part.Members, ir.OpKindFused, attrs, part.Inputs, part.Outputs)
	for _, m := range part.Members {
		consumed.Insert(m.ID())
	}
	if klog.V(1).Enabled() {
		klog.Infof("fusion: %q fused %d ops into %s (kind=%s, kernel=%s)",
			part.Pattern, len(part.Members), part.Replacement, part.Kind, part.Kernel.Name())
	}
}
