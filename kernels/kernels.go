// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds the kernel objects produced for accepted fusion
// partitions. Generating and executing the actual code is downstream
// codegen's business; these carry what it needs to know about the fused
// group.
package kernels

import (
	"github.com/gomlx/graphfusion/fusion"
	"github.com/gomlx/graphfusion/ir"
)

// PoolingFwd executes a float pooling op with fused elementwise post-ops.
type PoolingFwd struct {
	// Pool is the pooling kind the partition is built around.
	Pool ir.OpKind

	// PostOps are the fused trailing elementwise kinds, in chain order.
	PostOps []ir.OpKind
}

// Name implements fusion.Kernel.
func (k *PoolingFwd) Name() string { return "float_pooling_fwd" }

// NewPoolingFwd is the kernel factory for the float pooling post-ops pattern.
func NewPoolingFwd(p *fusion.Partition) fusion.Kernel {
	k := &PoolingFwd{Pool: ir.OpKindInvalid}
	for _, m := range p.Members {
		switch {
		case m.Kind().IsPool():
			k.Pool = m.Kind()
		case m.Kind().IsBinary():
			k.PostOps = append(k.PostOps, m.Kind())
		}
	}
	return k
}

// QuantizedPooling executes an int8 pooling group: dequantize, pool,
// optional layout/binary post-ops, quantize.
type QuantizedPooling struct {
	Pool ir.OpKind

	// WithSum is set when the partition fused a post-sum (the binary-add
	// alternative with a second dequantized input).
	WithSum bool
}

// Name implements fusion.Kernel.
func (k *QuantizedPooling) Name() string { return "quantized_pooling" }

// NewQuantizedPooling is the kernel factory for the int8 pooling patterns.
func NewQuantizedPooling(p *fusion.Partition) fusion.Kernel {
	k := &QuantizedPooling{Pool: ir.OpKindInvalid}
	for _, m := range p.Members {
		switch {
		case m.Kind().IsPool():
			k.Pool = m.Kind()
		case m.Kind() == ir.OpKindAdd:
			k.WithSum = true
		}
	}
	return k
}
