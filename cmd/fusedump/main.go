// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// fusedump builds a small int8 pooling graph, runs the fusion-break
// annotation pass and one fusion sweep, and dumps the resulting partitions.
//
// Useful to eyeball what the registered patterns do for a given engine:
//
//	fusedump --engine=cpu --v=1
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/graphfusion/fusion"
	"github.com/gomlx/graphfusion/ir"
	_ "github.com/gomlx/graphfusion/patterns"
)

var (
	flagEngine = flag.String("engine", "cpu", "Target engine kind: cpu or gpu.")
	flagMixed  = flag.Bool("mixed_fusion", false, "Enable mixed-fusion annotation.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var engine fusion.EngineKind
	switch *flagEngine {
	case "cpu":
		engine = fusion.EngineCPU
	case "gpu":
		engine = fusion.EngineGPU
	default:
		log.Fatalf("unknown engine kind %q", *flagEngine)
	}

	g := buildSampleGraph()
	fmt.Printf("Graph before fusion (%d ops):\n%s\n", g.NumOps(), g)

	cfg := fusion.PassConfig{Engine: engine, MixedFusion: *flagMixed}
	fusion.AnnotateFusionBreak(g, cfg)
	partitions := fusion.Run(g, cfg)

	fmt.Printf("Graph after fusion (%d ops):\n%s\n", g.NumOps(), g)
	for _, p := range partitions {
		fmt.Printf("partition %s\n", p.ID)
		fmt.Printf("  pattern: %s (kind=%s, kernel=%s)\n", p.Pattern, p.Kind, p.Kernel.Name())
		fmt.Printf("  members:")
		for _, m := range p.Members {
			fmt.Printf(" %s", m)
		}
		fmt.Printf("\n  boundary: %d inputs, %d outputs\n", len(p.Inputs), len(p.Outputs))
	}
}

// buildSampleGraph builds int8 pooling with a quantized post-sum:
// Dequantize -> MaxPool -> Add(, Dequantize) -> Quantize.
func buildSampleGraph() *ir.Graph {
	g := ir.New()
	t0 := g.Input(ir.MakeShape(dtypes.Int8, 1, 64, 56, 56))
	t0.Quant = ir.PerTensorQuant(0.125, 0)
	t1 := g.Input(ir.MakeShape(dtypes.Int8, 1, 64, 28, 28))
	t1.Quant = ir.PerTensorQuant(0.25, 0)

	dq := must.M1(g.AddOp(ir.OpKindDequantize, []*ir.Tensor{t0},
		ir.MakeShape(dtypes.Float32, 1, 64, 56, 56)))
	pool := must.M1(g.AddOp(ir.OpKindMaxPool, []*ir.Tensor{dq.Output(0)},
		ir.MakeShape(dtypes.Float32, 1, 64, 28, 28)))
	dqOther := must.M1(g.AddOp(ir.OpKindDequantize, []*ir.Tensor{t1},
		ir.MakeShape(dtypes.Float32, 1, 64, 28, 28)))
	add := must.M1(g.AddOp(ir.OpKindAdd, []*ir.Tensor{pool.Output(0), dqOther.Output(0)}))
	quant := must.M1(g.AddOp(ir.OpKindQuantize, []*ir.Tensor{add.Output(0)},
		ir.MakeShape(dtypes.Int8, 1, 64, 28, 28)))
	quant.Output(0).Quant = ir.PerTensorQuant(0.5, 0)
	return g
}
