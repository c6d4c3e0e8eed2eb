package classfile

import "fmt"

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpNop Opcode = iota
	// OpLabel marks a jump target; it is not executed.
	OpLabel
	OpBreakpoint
	OpIConst
	OpLdc
	OpILoad
	OpIStore
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpIRem
	OpDup
	OpPop
	OpGoto
	OpIfEq
	OpIfNe
	OpIfICmpEq
	OpIfICmpNe
	OpIfICmpLt
	OpIfICmpGe
	OpInvokeStatic
	OpInvokeVirtual
	OpInvokeSpecial
	OpInvokeDynamic
	OpNew
	OpCheckCast
	OpGetStatic
	OpPutStatic
	OpAthrow
	OpIReturn
	OpAReturn
	OpReturn
	OpMonitorEnter
	OpMonitorExit
)

var opcodeNames = [...]string{
	OpNop:           "nop",
	OpLabel:         "label",
	OpBreakpoint:    "breakpoint",
	OpIConst:        "iconst",
	OpLdc:           "ldc",
	OpILoad:         "iload",
	OpIStore:        "istore",
	OpIAdd:          "iadd",
	OpISub:          "isub",
	OpIMul:          "imul",
	OpIDiv:          "idiv",
	OpIRem:          "irem",
	OpDup:           "dup",
	OpPop:           "pop",
	OpGoto:          "goto",
	OpIfEq:          "ifeq",
	OpIfNe:          "ifne",
	OpIfICmpEq:      "if_icmpeq",
	OpIfICmpNe:      "if_icmpne",
	OpIfICmpLt:      "if_icmplt",
	OpIfICmpGe:      "if_icmpge",
	OpInvokeStatic:  "invokestatic",
	OpInvokeVirtual: "invokevirtual",
	OpInvokeSpecial: "invokespecial",
	OpInvokeDynamic: "invokedynamic",
	OpNew:           "new",
	OpCheckCast:     "checkcast",
	OpGetStatic:     "getstatic",
	OpPutStatic:     "putstatic",
	OpAthrow:        "athrow",
	OpIReturn:       "ireturn",
	OpAReturn:       "areturn",
	OpReturn:        "return",
	OpMonitorEnter:  "monitorenter",
	OpMonitorExit:   "monitorexit",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// IsJump reports whether the opcode transfers control to a label.
func (op Opcode) IsJump() bool {
	switch op {
	case OpGoto, OpIfEq, OpIfNe, OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe:
		return true
	}
	return false
}

// IsInvoke reports whether the opcode calls a method.
func (op Opcode) IsInvoke() bool {
	switch op {
	case OpInvokeStatic, OpInvokeVirtual, OpInvokeSpecial, OpInvokeDynamic:
		return true
	}
	return false
}

// IsTerminal reports whether control never falls through to the next
// instruction.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpGoto, OpAthrow, OpIReturn, OpAReturn, OpReturn:
		return true
	}
	return false
}

// Instruction is one operation. Which operand fields are meaningful depends
// on Op: Int for constants and local slots, Str for string constants and
// class operands, Owner/Name/Descriptor for member references, and Label for
// label marks and jump targets.
type Instruction struct {
	Op         Opcode `cbor:"1,keyasint"`
	Int        int64  `cbor:"2,keyasint,omitempty"`
	Str        string `cbor:"3,keyasint,omitempty"`
	Owner      string `cbor:"4,keyasint,omitempty"`
	Name       string `cbor:"5,keyasint,omitempty"`
	Descriptor string `cbor:"6,keyasint,omitempty"`
	Label      string `cbor:"7,keyasint,omitempty"`
}

func (in Instruction) String() string {
	switch {
	case in.Op == OpLabel:
		return in.Label + ":"
	case in.Op.IsJump():
		return in.Op.String() + " " + in.Label
	case in.Op.IsInvoke(), in.Op == OpGetStatic, in.Op == OpPutStatic:
		return fmt.Sprintf("%s %s.%s%s", in.Op, in.Owner, in.Name, in.Descriptor)
	case in.Op == OpIConst, in.Op == OpILoad, in.Op == OpIStore:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case in.Op == OpLdc:
		return fmt.Sprintf("%s %q", in.Op, in.Str)
	case in.Op == OpNew, in.Op == OpCheckCast:
		return in.Op.String() + " " + in.Str
	}
	return in.Op.String()
}

// Op returns an operand-less instruction.
func Op(op Opcode) Instruction { return Instruction{Op: op} }

// Mark returns a label instruction.
func Mark(label string) Instruction { return Instruction{Op: OpLabel, Label: label} }

// Jump returns a jump to label.
func Jump(op Opcode, label string) Instruction { return Instruction{Op: op, Label: label} }

// IConst pushes an integer constant.
func IConst(v int64) Instruction { return Instruction{Op: OpIConst, Int: v} }

// Ldc pushes a string constant.
func Ldc(s string) Instruction { return Instruction{Op: OpLdc, Str: s} }

// ILoad pushes local slot n.
func ILoad(n int) Instruction { return Instruction{Op: OpILoad, Int: int64(n)} }

// IStore pops into local slot n.
func IStore(n int) Instruction { return Instruction{Op: OpIStore, Int: int64(n)} }

// New allocates an instance of className.
func New(className string) Instruction { return Instruction{Op: OpNew, Str: className} }

// Invoke returns a method call instruction.
func Invoke(op Opcode, owner, name, descriptor string) Instruction {
	return Instruction{Op: op, Owner: owner, Name: name, Descriptor: descriptor}
}

// InvokeStatic is shorthand for Invoke(OpInvokeStatic, ...).
func InvokeStatic(owner, name, descriptor string) Instruction {
	return Invoke(OpInvokeStatic, owner, name, descriptor)
}
