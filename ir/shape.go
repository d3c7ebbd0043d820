// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// DynamicDim marks a dimension whose concrete value is unknown at pattern
// matching time.
const DynamicDim = -1

// Shape of a tensor: a dtype and ordered dimensions. A dimension is either a
// concrete non-negative size or DynamicDim.
//
// The dtype vocabulary comes from github.com/gomlx/gopjrt/dtypes, shared with
// the rest of the compiler.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// MakeShape returns a Shape with the given dtype and dimensions.
func MakeShape(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Rank of the shape: the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := s
	s2.Dimensions = append([]int(nil), s.Dimensions...)
	return s2
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	parts := make([]string, 0, s.Rank())
	for _, d := range s.Dimensions {
		if d == DynamicDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", d))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// QuantGranularity tells whether quantization parameters are shared across
// the whole tensor or vary per channel.
type QuantGranularity int

const (
	PerTensor QuantGranularity = iota
	PerChannel
)

// String implements fmt.Stringer.
func (q QuantGranularity) String() string {
	switch q {
	case PerTensor:
		return "per_tensor"
	case PerChannel:
		return "per_channel"
	}
	return fmt.Sprintf("QuantGranularity(%d)", int(q))
}

// Quant holds the quantization metadata optionally attached to a tensor.
// PerTensor granularity implies single-element Scales and ZeroPoints.
type Quant struct {
	Scales      []float64
	ZeroPoints  []int64
	Granularity QuantGranularity
}

// PerTensorQuant is a convenience constructor for per-tensor quantization
// metadata with one scale and one zero-point.
func PerTensorQuant(scale float64, zeroPoint int64) *Quant {
	return &Quant{
		Scales:      []float64{scale},
		ZeroPoints:  []int64{zeroPoint},
		Granularity: PerTensor,
	}
}

// PerChannelQuant is a convenience constructor for per-channel quantization
// metadata.
func PerChannelQuant(scales []float64, zeroPoints []int64) *Quant {
	return &Quant{
		Scales:      scales,
		ZeroPoints:  zeroPoints,
		Granularity: PerChannel,
	}
}
