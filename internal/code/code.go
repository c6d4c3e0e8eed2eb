// Package code holds the rewriting contracts applied to class definitions:
// definition providers rewrite metadata and emitters rewrite instruction
// streams.
package code

import (
	"sort"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
)

// Emitter priorities. Lower values run first. Emitters at or below
// PriorityTracing only inject instrumentation and are dropped when tracing
// is disabled.
const (
	PriorityTracing  = 0
	PriorityTrapping = PriorityTracing + 1
	PriorityHandling = PriorityTrapping + 1
	PriorityDefault  = 10
)

// Context is what providers and emitters may consult about the sandbox.
type Context struct {
	Analysis *analysis.Configuration
}

// DefinitionProvider rewrites class and member metadata before any code is
// emitted. Define receives a definition it may modify and returns the
// definition to pass on.
type DefinitionProvider interface {
	Define(ctx Context, def *classfile.Definition) *classfile.Definition
}

// EmitContext locates the instruction being emitted.
type EmitContext struct {
	Context
	Class  *classfile.Definition
	Method *classfile.Member

	// Index of the instruction within the method body before this emitter
	// ran.
	Index int
}

// AtEntry reports whether the instruction is the first of its method.
func (c EmitContext) AtEntry() bool {
	return c.Index == 0
}

// Emitter rewrites a method's instructions one at a time.
type Emitter interface {
	Priority() int
	Emit(ctx EmitContext, insn classfile.Instruction, m *EmitterModule)
}

// SortEmitters returns emitters ordered by ascending priority, keeping the
// given order among equal priorities.
func SortEmitters(emitters []Emitter) []Emitter {
	sorted := append([]Emitter(nil), emitters...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}

// FilterTracing drops tracing emitters.
func FilterTracing(emitters []Emitter) []Emitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e.Priority() > PriorityTracing {
			kept = append(kept, e)
		}
	}
	return kept
}
