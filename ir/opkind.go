// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

// OpKind is the closed vocabulary of operator kinds the fusion engine
// understands. The engine never interprets kind semantics beyond equality and
// set-membership checks; the meaning of each kind belongs to the surrounding
// compiler (shape inference, codegen).
//
// OpKindFused is reserved for replacement nodes inserted by the fusion pass.
type OpKind int

//go:generate go tool enumer -type=OpKind -trimprefix=OpKind -output=gen_opkind_enumer.go opkind.go

const (
	OpKindInvalid OpKind = iota

	// Binary elementwise ops.
	OpKindAdd
	OpKindSubtract
	OpKindMultiply
	OpKindDivide
	OpKindMaximum
	OpKindMinimum

	// Pooling ops.
	OpKindAvgPool
	OpKindMaxPool

	// Compute-heavy ops.
	OpKindConvolution
	OpKindBiasAdd
	OpKindMatMul

	// Unary elementwise ops.
	OpKindRelu
	OpKindSigmoid

	// Layout ops.
	OpKindStaticReshape
	OpKindStaticTranspose

	// Quantization rescaling ops.
	OpKindQuantize
	OpKindDequantize

	// OpKindFused replaces the members of an applied fusion partition.
	OpKindFused
)

// IsBinary returns whether the kind is a two-input elementwise binary op.
func (k OpKind) IsBinary() bool {
	return k >= OpKindAdd && k <= OpKindMinimum
}

// IsPool returns whether the kind is a pooling op.
func (k OpKind) IsPool() bool {
	return k == OpKindAvgPool || k == OpKindMaxPool
}

// IsConvFamily returns whether the kind is a convolution-family op, for the
// purposes of the fusion-break annotation pass.
func (k OpKind) IsConvFamily() bool {
	return k == OpKindConvolution || k == OpKindBiasAdd
}
