// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pm

import (
	"github.com/gomlx/graphfusion/ir"
)

// This file holds the decision-predicate library pattern authors can attach
// to pattern nodes. All predicates are pure: they read the bound operator's
// kind, attributes and tensor quantization metadata, and never mutate the
// graph, so the matcher can re-evaluate them freely while backtracking.

// quantTensors visits each input and output tensor of n carrying
// quantization metadata.
func quantTensors(n *ir.OpNode, visit func(*ir.Quant) bool) bool {
	for _, t := range n.Inputs() {
		if t.Quant != nil && !visit(t.Quant) {
			return false
		}
	}
	for _, t := range n.Outputs() {
		if t.Quant != nil && !visit(t.Quant) {
			return false
		}
	}
	return true
}

// QuantPerTensorAllPorts holds when every quantized tensor on the operator's
// ports uses per-tensor granularity.
func QuantPerTensorAllPorts(n *ir.OpNode) bool {
	return quantTensors(n, func(q *ir.Quant) bool {
		return q.Granularity == ir.PerTensor
	})
}

// ZeroPointsEqual returns a predicate holding when every zero-point on every
// quantized tensor of the operator's ports equals the given value.
func ZeroPointsEqual(value int64) Decision {
	return func(n *ir.OpNode) bool {
		return quantTensors(n, func(q *ir.Quant) bool {
			for _, zp := range q.ZeroPoints {
				if zp != value {
					return false
				}
			}
			return true
		})
	}
}

// KindIs returns a predicate holding when the operator's kind is one of the
// given kinds. Mostly useful inside composed predicates; structural kind
// checks belong in the pattern declaration itself.
func KindIs(kinds ...ir.OpKind) Decision {
	return func(n *ir.OpNode) bool {
		for _, k := range kinds {
			if n.Kind() == k {
				return true
			}
		}
		return false
	}
}

// NoBreakPostFuse holds when the operator is not marked as a fusion
// boundary. Patterns that absorb an operator as an internal node should
// attach this; the fusion pass additionally enforces it when validating
// partitions.
func NoBreakPostFuse(n *ir.OpNode) bool {
	return !n.BreakPostFuse()
}

// HasSingleConsumer returns a predicate holding when the operator's output
// port is consumed exactly once, i.e. fusing it does not duplicate work.
func HasSingleConsumer(port int) Decision {
	return func(n *ir.OpNode) bool {
		t := n.Output(port)
		return t != nil && len(t.Consumers()) == 1
	}
}
