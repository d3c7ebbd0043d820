// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/graphfusion/ir"
)

// AnnotateFusionBreak walks the graph once and marks operators with the
// break_post_fuse flag at quantization rescale boundaries, so later fusion
// patterns do not absorb them as internal nodes of a larger match.
//
// Two neighborhoods are recognized:
//
//	Convolution/BiasAdd (or Add)
//	        |
//	     Quantize      <- break_post_fuse
//	        |
//	    Dequantize
//	        |
//	       Add
//
// and, only when cfg.MixedFusion is set:
//
//	Dequantize (either Add input)
//	        |
//	       Add
//	        |
//	       Relu
//	        |
//	     Quantize      <- break_post_fuse
//
// A quantize/dequantize pair between two fusible ops is a rescale boundary,
// not a fusible elementwise chain; fusing across it would change the points
// where values are re-quantized.
//
// Only fixed producer edges are followed, so traversal order does not matter,
// and setting an already-set flag is a no-op: the pass is idempotent.
func AnnotateFusionBreak(g *ir.Graph, cfg PassConfig) {
	for _, op := range g.Ops() {
		if op.Kind() == ir.OpKindAdd {
			for _, in := range op.Inputs() {
				prev1 := producerOf(in)
				if prev1 == nil || prev1.Kind() != ir.OpKindDequantize {
					continue
				}
				prev2 := producerOf(prev1.Input(0))
				if prev2 == nil || prev2.Kind() != ir.OpKindQuantize {
					continue
				}
				prev3 := producerOf(prev2.Input(0))
				if prev3 == nil {
					continue
				}
				if prev3.Kind().IsConvFamily() || prev3.Kind() == ir.OpKindAdd {
					prev2.SetBreakPostFuse()
				}
			}
		}
		if cfg.MixedFusion && op.Kind() == ir.OpKindQuantize {
			prev1 := producerOf(op.Input(0))
			if prev1 == nil || prev1.Kind() != ir.OpKindRelu {
				continue
			}
			prev2 := producerOf(prev1.Input(0))
			if prev2 == nil || prev2.Kind() != ir.OpKindAdd {
				continue
			}
			lhs := producerOf(prev2.Input(0))
			rhs := producerOf(prev2.Input(1))
			if (lhs != nil && lhs.Kind() == ir.OpKindDequantize) ||
				(rhs != nil && rhs.Kind() == ir.OpKindDequantize) {
				op.SetBreakPostFuse()
			}
		}
	}
}

func producerOf(t *ir.Tensor) *ir.OpNode {
	if t == nil {
		return nil
	}
	prod, _ := t.Producer()
	return prod
}
