package rules

import (
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/code"
)

// AlwaysUseExactMath replaces integer arithmetic that can overflow with
// calls that fail on overflow.
type AlwaysUseExactMath struct{}

func (AlwaysUseExactMath) Priority() int { return code.PriorityDefault }

func (AlwaysUseExactMath) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	var name string
	switch insn.Op {
	case classfile.OpIAdd:
		name = "addExact"
	case classfile.OpISub:
		name = "subtractExact"
	case classfile.OpIMul:
		name = "multiplyExact"
	default:
		return
	}
	m.Emit(classfile.InvokeStatic(code.ExactMathName, name, "(II)I"))
	m.PreventDefault()
}

// DisallowDynamicInvocation replaces invokedynamic with a run-time rule
// violation.
type DisallowDynamicInvocation struct{}

func (DisallowDynamicInvocation) Priority() int { return code.PriorityDefault }

func (DisallowDynamicInvocation) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op != classfile.OpInvokeDynamic {
		return
	}
	m.ThrowRuleViolation("Disallowed reference to API; invokedynamic " + insn.Name + insn.Descriptor)
	m.PreventDefault()
}

// nonDeterministicMethods maps owner to the methods that may not be called
// from inside the sandbox. An empty method set bans the whole class.
var nonDeterministicMethods = map[string]map[string]bool{
	"java/lang/System": {
		"currentTimeMillis": true,
		"nanoTime":          true,
		"identityHashCode":  true,
		"getenv":            true,
		"getProperty":       true,
	},
	"java/lang/Object": {
		"hashCode":  true,
		"wait":      true,
		"notify":    true,
		"notifyAll": true,
	},
	"java/lang/Thread": {},
	"java/util/Random": {},
}

// DisallowNonDeterministicMethods replaces calls whose results depend on
// the host with a run-time rule violation.
type DisallowNonDeterministicMethods struct{}

func (DisallowNonDeterministicMethods) Priority() int { return code.PriorityDefault }

func (DisallowNonDeterministicMethods) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if !insn.Op.IsInvoke() {
		return
	}
	methods, ok := nonDeterministicMethods[insn.Owner]
	if !ok || (len(methods) > 0 && !methods[insn.Name]) {
		return
	}
	m.ThrowRuleViolation("Disallowed reference to API; " + insn.Owner + "." + insn.Name + insn.Descriptor)
	m.PreventDefault()
}

// IgnoreBreakpoints drops breakpoint instructions.
type IgnoreBreakpoints struct{}

func (IgnoreBreakpoints) Priority() int { return code.PriorityDefault }

func (IgnoreBreakpoints) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op == classfile.OpBreakpoint {
		m.PreventDefault()
	}
}

// IgnoreSynchronizedBlocks turns monitor operations into a pop of the lock
// object.
type IgnoreSynchronizedBlocks struct{}

func (IgnoreSynchronizedBlocks) Priority() int { return code.PriorityDefault }

func (IgnoreSynchronizedBlocks) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op == classfile.OpMonitorEnter || insn.Op == classfile.OpMonitorExit {
		m.Emit(classfile.Op(classfile.OpPop))
		m.PreventDefault()
	}
}

// TraceAllocations counts object allocations.
type TraceAllocations struct{}

func (TraceAllocations) Priority() int { return code.PriorityTracing }

func (TraceAllocations) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op == classfile.OpNew {
		m.InvokeCostAccounter("recordAllocation")
	}
}

// TraceInvocations counts method entries.
type TraceInvocations struct{}

func (TraceInvocations) Priority() int { return code.PriorityTracing }

func (TraceInvocations) Emit(ctx code.EmitContext, _ classfile.Instruction, m *code.EmitterModule) {
	if ctx.AtEntry() {
		m.InvokeCostAccounter("recordInvocation")
	}
}

// TraceJumps counts branches taken or not.
type TraceJumps struct{}

func (TraceJumps) Priority() int { return code.PriorityTracing }

func (TraceJumps) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op.IsJump() {
		m.InvokeCostAccounter("recordJump")
	}
}

// TraceThrows counts thrown objects.
type TraceThrows struct{}

func (TraceThrows) Priority() int { return code.PriorityTracing }

func (TraceThrows) Emit(_ code.EmitContext, insn classfile.Instruction, m *code.EmitterModule) {
	if insn.Op == classfile.OpAthrow {
		m.InvokeCostAccounter("recordThrow")
	}
}
