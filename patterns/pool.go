// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package patterns registers the built-in fusion patterns into the default
// registry. Import it for side effects:
//
//	import _ "github.com/gomlx/graphfusion/patterns"
package patterns

import (
	"github.com/gomlx/graphfusion/fusion"
	"github.com/gomlx/graphfusion/ir"
	"github.com/gomlx/graphfusion/kernels"
	"github.com/gomlx/graphfusion/pm"
)

var binaryKinds = []ir.OpKind{
	ir.OpKindAdd, ir.OpKindMultiply, ir.OpKindMaximum,
	ir.OpKindMinimum, ir.OpKindDivide, ir.OpKindSubtract,
}

var poolKinds = []ir.OpKind{ir.OpKindAvgPool, ir.OpKindMaxPool}

func init() {
	fusion.Register(&fusion.RegisteredPattern{
		Name:          "pool_post_ops_fusion",
		Priority:      9.9,
		PartitionKind: "pooling_post_ops",
		BuildPattern:  buildPoolPostOps,
		CreateKernel:  kernels.NewPoolingFwd,
	})
	fusion.Register(&fusion.RegisteredPattern{
		Name:          "int8_pool_binary_fusion_cpu",
		Priority:      10.0,
		Engine:        fusion.EngineCPU,
		PartitionKind: "quantized_pooling_post_ops",
		BuildPattern:  buildInt8PoolBinary(true),
		CreateKernel:  kernels.NewQuantizedPooling,
	})
	fusion.Register(&fusion.RegisteredPattern{
		Name:          "int8_pool_binary_fusion_gpu",
		Priority:      10.0,
		Engine:        fusion.EngineGPU,
		PartitionKind: "quantized_pooling_post_ops",
		BuildPattern:  buildInt8PoolBinary(false),
		CreateKernel:  kernels.NewQuantizedPooling,
	})
}

// buildPoolPostOps declares a pooling op followed by a chain of one or more
// elementwise binary ops. The binary's second input is an internal input: it
// may come from anywhere outside the partition.
//
//	(AvgPool|MaxPool)
//	        |
//	  (binary op)+
func buildPoolPostOps(pgraph *pm.Graph) {
	ppool := pgraph.AppendAlternation(poolKinds, "ppool")

	binarySubgraph := pm.NewGraph("pbinary_subgraph")
	pbinary := binarySubgraph.AppendAlternation(binaryKinds, "pbinary")
	binarySubgraph.CreateInputPort(0, pbinary, 0)
	binarySubgraph.CreateOutputPort(0, pbinary, 0)

	pgraph.AppendRepetition(binarySubgraph, 1, pm.MaxRepetition, "prepetition",
		pm.In(0, ppool, 0))
}

// buildInt8PoolBinary declares the int8 pooling fusion:
//
//	for case 1 and case 2:
//	                    Dequantize
//	                        |
//	                (AvgPool|MaxPool)
//	                        |
//	        (StaticReshape|StaticTranspose)?   (case 2 only)
//	                        |
//	                    Quantize
//	for case 3:
//	                Dequantize
//	                    |
//	            (AvgPool|MaxPool)   Dequantize
//	                       \         /
//	                           Add
//	                            |
//	                        Quantize
//
// The CPU variant requires per-tensor quantization throughout; the GPU
// variant instead requires a zero zero-point on the second dequantize, since
// post-sum with zero points is not supported there.
func buildInt8PoolBinary(perTensorChecks bool) func(*pm.Graph) {
	return func(pgraph *pm.Graph) {
		pdequantData := pgraph.AppendOp(ir.OpKindDequantize, "pdequant_data")
		if perTensorChecks {
			pdequantData.AppendDecision(pm.QuantPerTensorAllPorts)
		}

		ppool := pgraph.AppendAlternation(poolKinds, "ppool",
			pm.In(0, pdequantData, 0))

		// case 1: quantize only.
		subgraph1 := pm.NewGraph("subgraph_only_quant")
		{
			quant := subgraph1.AppendOp(ir.OpKindQuantize, "pquantize")
			if perTensorChecks {
				quant.AppendDecision(pm.QuantPerTensorAllPorts)
			}
			subgraph1.CreateInputPort(0, quant, 0)
			subgraph1.CreateOutputPort(0, quant, 0)
		}

		// case 2: reshape - quantize.
		subgraph2 := pm.NewGraph("subgraph_reshape_quant")
		{
			reshape := subgraph2.AppendAlternation(
				[]ir.OpKind{ir.OpKindStaticReshape, ir.OpKindStaticTranspose}, "preshape")
			quant := subgraph2.AppendOp(ir.OpKindQuantize, "pquantize",
				pm.In(0, reshape, 0))
			if perTensorChecks {
				quant.AppendDecision(pm.QuantPerTensorAllPorts)
			}
			subgraph2.CreateInputPort(0, reshape, 0)
			subgraph2.CreateOutputPort(0, quant, 0)
		}

		// case 3: binary op - quantize.
		subgraph3 := pm.NewGraph("padd_subgraph")
		{
			pdequantOther := subgraph3.AppendOp(ir.OpKindDequantize, "pdequant_other")
			if !perTensorChecks {
				pdequantOther.AppendDecision(pm.ZeroPointsEqual(0))
			}
			padd := subgraph3.AppendOp(ir.OpKindAdd, "padd",
				pm.In(1, pdequantOther, 0))
			quant := subgraph3.AppendOp(ir.OpKindQuantize, "pquantize",
				pm.In(0, padd, 0))
			if perTensorChecks {
				quant.AppendDecision(pm.QuantPerTensorAllPorts)
			}
			subgraph3.CreateInputPort(0, padd, 0)
			subgraph3.CreateInputPort(1, pdequantOther, 0)
			subgraph3.CreateOutputPort(0, quant, 0)
		}

		pgraph.AppendAlternatives([]*pm.Graph{subgraph1, subgraph2, subgraph3}, "ppostops",
			pm.In(0, ppool, 0))
	}
}
