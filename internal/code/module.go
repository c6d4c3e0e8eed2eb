package code

import (
	"fmt"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
)

// Runtime support entry points that emitted code may call.
const (
	CostAccounterName = analysis.RuntimePackage + "RuntimeCostAccounter"
	ExactMathName     = analysis.RuntimePackage + "ExactMath"
	TrapName          = analysis.RuntimePackage + "Trap"
)

// EmitterModule collects the output of one emitter for one instruction.
type EmitterModule struct {
	out            []classfile.Instruction
	preventDefault bool
	labels         *int
}

// NewEmitterModule is used by the rewriting pipeline. labels is shared
// across a method so that generated labels stay unique.
func NewEmitterModule(labels *int) *EmitterModule {
	return &EmitterModule{labels: labels}
}

// Reset prepares the module for the next instruction.
func (m *EmitterModule) Reset() {
	m.out = m.out[:0]
	m.preventDefault = false
}

// Emit appends instructions ahead of the current one.
func (m *EmitterModule) Emit(insns ...classfile.Instruction) {
	m.out = append(m.out, insns...)
}

// PreventDefault drops the current instruction from the output.
func (m *EmitterModule) PreventDefault() {
	m.preventDefault = true
}

// IsDefaultPrevented reports whether PreventDefault was called.
func (m *EmitterModule) IsDefaultPrevented() bool {
	return m.preventDefault
}

// Emitted returns what was emitted for the current instruction.
func (m *EmitterModule) Emitted() []classfile.Instruction {
	return m.out
}

// NewLabel returns a label name unique within the method.
func (m *EmitterModule) NewLabel() string {
	*m.labels++
	return fmt.Sprintf("$emit%d", *m.labels)
}

// InvokeCostAccounter emits a call that records one unit of resource use.
func (m *EmitterModule) InvokeCostAccounter(method string) {
	m.Emit(classfile.InvokeStatic(CostAccounterName, method, "()V"))
}

// ThrowRuleViolation emits code that fails at run time with message. Any
// values already on the stack are abandoned by the throw.
func (m *EmitterModule) ThrowRuleViolation(message string) {
	m.Emit(RuleViolationTrap(message)...)
}

// RuleViolationTrap returns instructions that fail at run time with a rule
// violation carrying message.
func RuleViolationTrap(message string) []classfile.Instruction {
	return []classfile.Instruction{
		classfile.Ldc(message),
		classfile.InvokeStatic(TrapName, "ruleViolation", "(Ljava/lang/String;)Ljava/lang/Throwable;"),
		classfile.Op(classfile.OpAthrow),
	}
}

// Rewrite runs one emitter over every instruction of a method body and
// returns the new instruction list.
func Rewrite(ctx EmitContext, e Emitter, body []classfile.Instruction, labels *int) []classfile.Instruction {
	out := make([]classfile.Instruction, 0, len(body))
	m := NewEmitterModule(labels)
	for i, insn := range body {
		ctx.Index = i
		m.Reset()
		e.Emit(ctx, insn, m)
		out = append(out, m.Emitted()...)
		if !m.IsDefaultPrevented() {
			out = append(out, insn)
		}
	}
	return out
}
