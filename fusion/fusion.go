// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion holds the pattern registry, the fusion rewrite pass and the
// fusion-boundary annotation pass.
//
// Patterns are registered once at process startup (typically from a package
// init), each with a priority, an optional required engine kind, a
// partition-kind tag, a pattern-building callback and a kernel factory.
// Registration compiles and validates the pattern immediately, so all
// declaration errors abort before any compilation proceeds.
package fusion

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pm"
)

// EngineKind is the target hardware class a pattern may be restricted to.
type EngineKind int

const (
	// EngineAny matches any compilation target.
	EngineAny EngineKind = iota
	EngineCPU
	EngineGPU
)

// String implements fmt.Stringer.
func (e EngineKind) String() string {
	switch e {
	case EngineAny:
		return "any"
	case EngineCPU:
		return "cpu"
	case EngineGPU:
		return "gpu"
	}
	return fmt.Sprintf("EngineKind(%d)", int(e))
}

// PassConfig carries the per-compilation settings read by the passes.
type PassConfig struct {
	// Engine is the compilation's target hardware.
	Engine EngineKind

	// MixedFusion enables the extra rescale-boundary annotation used by the
	// mixed fusion mode (see AnnotateFusionBreak).
	MixedFusion bool
}

// Kernel is the object that will execute a fused partition; producing and
// running the actual code is downstream codegen's business, the fusion pass
// only creates it through the registered factory.
type Kernel interface {
	Name() string
}

// CreateKernelFn builds the Kernel for an accepted partition. It must be
// pure: the pass may discard the partition if application fails validation.
type CreateKernelFn func(*Partition) Kernel

// RegisteredPattern describes one fusion pattern in the catalog.
type RegisteredPattern struct {
	// Name uniquely identifies the pattern; duplicate registration is fatal.
	Name string

	// Priority arbitrates overlapping matches: higher wins. Ties break by
	// registration order (earlier wins).
	Priority float64

	// Engine restricts the pattern to one target hardware kind; EngineAny
	// applies everywhere.
	Engine EngineKind

	// PartitionKind is the opaque classification tag consumed by downstream
	// codegen.
	PartitionKind string

	// BuildPattern declares the pattern shape into the given empty graph.
	BuildPattern func(*pm.Graph)

	// CreateKernel builds the kernel for an accepted partition.
	CreateKernel CreateKernelFn

	// Compiled at registration.
	pattern *pm.Graph
	seq     int
}

// Registry is a catalog of fusion patterns. The zero value is not usable;
// create one with NewRegistry, or use the process-wide Default registry.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]*RegisteredPattern
	patterns []*RegisteredPattern
}

// NewRegistry creates an empty pattern registry. Most code uses the Default
// registry; independent registries exist for tests.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*RegisteredPattern)}
}

// Default is the process-wide registry the built-in patterns register into.
var Default = NewRegistry()

// Register adds the pattern to the registry, compiling and validating its
// pattern graph. A duplicate name, a missing callback, or any pattern
// declaration error panics with a stack trace: these are startup-time
// programming errors, not recoverable conditions.
func (r *Registry) Register(p *RegisteredPattern) {
	if p.Name == "" {
		exceptions.Panicf("fusion.Register: pattern with empty name")
	}
	if p.BuildPattern == nil || p.CreateKernel == nil {
		exceptions.Panicf("fusion.Register: pattern %q needs both BuildPattern and CreateKernel", p.Name)
	}
	pg := pm.NewGraph(p.Name)
	p.BuildPattern(pg)
	pg.Build()
	p.pattern = pg

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.byName[p.Name]; found {
		exceptions.Panicf("fusion.Register: pattern %q registered twice", p.Name)
	}
	p.seq = len(r.patterns)
	r.byName[p.Name] = p
	r.patterns = append(r.patterns, p)
}

// sorted returns the patterns in application order: priority descending,
// registration order as the tie-break.
func (r *Registry) sorted() []*RegisteredPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*RegisteredPattern(nil), r.patterns...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Register adds a pattern to the Default registry.
func Register(p *RegisteredPattern) {
	Default.Register(p)
}
