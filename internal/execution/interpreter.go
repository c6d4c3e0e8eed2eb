package execution

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/code"
)

// MaxCallDepth bounds nested invocations.
const MaxCallDepth = 1024

// Environment supplies classes and accounting to an Interpreter. It is
// implemented by the isolated task context.
type Environment interface {
	// LoadClass returns a sandboxed class definition by sandboxed name.
	LoadClass(sandboxName string) (*classfile.Definition, error)

	// ObjectClass is the sandboxed name of the root type. Its only method
	// is the no-argument constructor.
	ObjectClass() string

	Accounter() *CostAccounter
}

// Object is an allocated instance. Only its class is tracked.
type Object struct {
	Class string
}

// ThrownError reports an object thrown out of the entry method. Exception
// handlers are not interpreted, so every throw propagates.
type ThrownError struct {
	Class   string
	Message string
}

func (e *ThrownError) Error() string {
	if e.Message == "" {
		return "uncaught " + e.Class
	}
	return fmt.Sprintf("uncaught %s: %s", e.Class, e.Message)
}

// RuleViolationError is raised by code that a rewrite replaced with a
// run-time trap.
type RuleViolationError struct {
	Message string
}

func (e *RuleViolationError) Error() string {
	return "rule violation: " + e.Message
}

// Interpreter executes the integer subset of sandboxed code: int
// arithmetic, locals, branches, static fields, object allocation and
// calls. Values are int32, string, or *Object.
type Interpreter struct {
	env         Environment
	statics     map[string]any
	initialized map[string]bool
	labels      map[*classfile.Member]map[string]int
	depth       int
}

// NewInterpreter creates an interpreter with fresh static state.
func NewInterpreter(env Environment) *Interpreter {
	return &Interpreter{
		env:         env,
		statics:     make(map[string]any),
		initialized: make(map[string]bool),
		labels:      make(map[*classfile.Member]map[string]int),
	}
}

// InvokeStatic calls a static method of a sandboxed class and returns its
// result, or nil for void methods.
func (in *Interpreter) InvokeStatic(ctx context.Context, owner, name, descriptor string, args ...any) (any, error) {
	return in.invoke(ctx, classfile.InvokeStatic(owner, name, descriptor), args)
}

func (in *Interpreter) invoke(ctx context.Context, insn classfile.Instruction, args []any) (any, error) {
	if analysis.IsPinned(insn.Owner) {
		return in.invokeRuntime(insn, args)
	}
	if insn.Op == classfile.OpInvokeSpecial && insn.Owner == in.env.ObjectClass() && insn.Name == classfile.ConstructorName {
		return nil, nil
	}

	owner := insn.Owner
	if insn.Op == classfile.OpInvokeVirtual {
		obj, ok := args[0].(*Object)
		if !ok {
			return nil, &ThrownError{Class: "java/lang/NullPointerException", Message: insn.Name}
		}
		owner = obj.Class
	}
	if insn.Op == classfile.OpInvokeStatic {
		if err := in.initialize(ctx, owner); err != nil {
			return nil, err
		}
	}
	declaring, m, err := in.resolve(owner, insn.Name, insn.Descriptor)
	if err != nil {
		return nil, err
	}

	if in.depth >= MaxCallDepth {
		return nil, &ThrownError{Class: "java/lang/StackOverflowError"}
	}
	in.depth++
	defer func() { in.depth-- }()
	return in.execute(ctx, declaring, m, args)
}

// resolve finds a method on class or its nearest ancestor.
func (in *Interpreter) resolve(class, name, descriptor string) (string, *classfile.Member, error) {
	for c := class; c != "" && c != in.env.ObjectClass(); {
		def, err := in.env.LoadClass(c)
		if err != nil {
			return "", nil, err
		}
		if m := def.Method(name, descriptor); m != nil {
			return c, m, nil
		}
		c = def.Super
	}
	return "", nil, &ThrownError{Class: "java/lang/NoSuchMethodError", Message: class + "." + name + descriptor}
}

// initialize runs a class's static initializer on first use.
func (in *Interpreter) initialize(ctx context.Context, class string) error {
	if in.initialized[class] || class == in.env.ObjectClass() || analysis.IsPinned(class) {
		return nil
	}
	in.initialized[class] = true
	def, err := in.env.LoadClass(class)
	if err != nil {
		return err
	}
	clinit := def.Method(classfile.ClassConstructorName, "()V")
	if clinit == nil {
		return nil
	}
	_, err = in.execute(ctx, class, clinit, nil)
	return err
}

func (in *Interpreter) invokeRuntime(insn classfile.Instruction, args []any) (any, error) {
	acc := in.env.Accounter()
	switch insn.Owner + "." + insn.Name {
	case code.CostAccounterName + ".recordAllocation":
		return nil, acc.RecordAllocation()
	case code.CostAccounterName + ".recordInvocation":
		return nil, acc.RecordInvocation()
	case code.CostAccounterName + ".recordJump":
		return nil, acc.RecordJump()
	case code.CostAccounterName + ".recordThrow":
		return nil, acc.RecordThrow()
	case code.ExactMathName + ".addExact":
		return exact(args, func(a, b int64) int64 { return a + b })
	case code.ExactMathName + ".subtractExact":
		return exact(args, func(a, b int64) int64 { return a - b })
	case code.ExactMathName + ".multiplyExact":
		return exact(args, func(a, b int64) int64 { return a * b })
	case code.TrapName + ".ruleViolation":
		msg, _ := args[0].(string)
		return nil, &RuleViolationError{Message: msg}
	}
	return nil, fmt.Errorf("unknown runtime method %s.%s%s", insn.Owner, insn.Name, insn.Descriptor)
}

func exact(args []any, op func(a, b int64) int64) (any, error) {
	a, aok := args[0].(int32)
	b, bok := args[1].(int32)
	if !aok || !bok {
		return nil, errors.New("exact math on non-integer operands")
	}
	r := op(int64(a), int64(b))
	if r < math.MinInt32 || r > math.MaxInt32 {
		return nil, &ThrownError{Class: "java/lang/ArithmeticException", Message: "integer overflow"}
	}
	return int32(r), nil
}

// frame is the state of one method activation.
type frame struct {
	class  string
	method *classfile.Member
	locals []any
	stack  []any
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() (any, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%s: operand stack underflow", classfile.FormatMember(f.class, f.method))
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popInt() (int32, error) {
	v, err := f.pop()
	if err != nil {
		return 0, err
	}
	i, ok := v.(int32)
	if !ok {
		return 0, fmt.Errorf("%s: expected int on stack, got %T", classfile.FormatMember(f.class, f.method), v)
	}
	return i, nil
}

func (f *frame) popArgs(n int) ([]any, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("%s: operand stack underflow", classfile.FormatMember(f.class, f.method))
	}
	args := append([]any(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return args, nil
}

func (in *Interpreter) labelsOf(m *classfile.Member) map[string]int {
	if l, ok := in.labels[m]; ok {
		return l
	}
	l := make(map[string]int)
	for i, insn := range m.Code.Instructions {
		if insn.Op == classfile.OpLabel {
			l[insn.Label] = i
		}
	}
	in.labels[m] = l
	return l
}

func (in *Interpreter) execute(ctx context.Context, class string, m *classfile.Member, args []any) (any, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("%s has no code", classfile.FormatMember(class, m))
	}
	f := &frame{class: class, method: m, locals: make([]any, max(m.Code.MaxLocals, len(args)))}
	copy(f.locals, args)
	labels := in.labelsOf(m)
	body := m.Code.Instructions

	for pc := 0; pc < len(body); {
		insn := body[pc]
		pc++

		switch insn.Op {
		case classfile.OpNop, classfile.OpLabel, classfile.OpBreakpoint, classfile.OpCheckCast:
		case classfile.OpIConst:
			f.push(int32(insn.Int))
		case classfile.OpLdc:
			f.push(insn.Str)
		case classfile.OpILoad:
			if insn.Int < 0 || int(insn.Int) >= len(f.locals) {
				return nil, fmt.Errorf("%s: local %d out of range", classfile.FormatMember(class, m), insn.Int)
			}
			f.push(f.locals[insn.Int])
		case classfile.OpIStore:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			if insn.Int < 0 || int(insn.Int) >= len(f.locals) {
				return nil, fmt.Errorf("%s: local %d out of range", classfile.FormatMember(class, m), insn.Int)
			}
			f.locals[insn.Int] = v
		case classfile.OpIAdd, classfile.OpISub, classfile.OpIMul, classfile.OpIDiv, classfile.OpIRem:
			b, err := f.popInt()
			if err != nil {
				return nil, err
			}
			a, err := f.popInt()
			if err != nil {
				return nil, err
			}
			r, err := arith(insn.Op, a, b)
			if err != nil {
				return nil, err
			}
			f.push(r)
		case classfile.OpDup:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.push(v)
			f.push(v)
		case classfile.OpPop, classfile.OpMonitorEnter, classfile.OpMonitorExit:
			if _, err := f.pop(); err != nil {
				return nil, err
			}
		case classfile.OpGoto, classfile.OpIfEq, classfile.OpIfNe,
			classfile.OpIfICmpEq, classfile.OpIfICmpNe, classfile.OpIfICmpLt, classfile.OpIfICmpGe:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			taken, err := branch(f, insn.Op)
			if err != nil {
				return nil, err
			}
			if taken {
				target, ok := labels[insn.Label]
				if !ok {
					return nil, fmt.Errorf("%s: unknown label %q", classfile.FormatMember(class, m), insn.Label)
				}
				pc = target
			}
		case classfile.OpInvokeStatic, classfile.OpInvokeVirtual, classfile.OpInvokeSpecial:
			mt, err := classfile.ParseMethodDescriptor(insn.Descriptor)
			if err != nil {
				return nil, err
			}
			n := len(mt.Params)
			if insn.Op != classfile.OpInvokeStatic {
				n++
			}
			callArgs, err := f.popArgs(n)
			if err != nil {
				return nil, err
			}
			r, err := in.invoke(ctx, insn, callArgs)
			if err != nil {
				return nil, err
			}
			if mt.ReturnSlots() > 0 {
				f.push(r)
			}
		case classfile.OpInvokeDynamic:
			return nil, fmt.Errorf("%s: invokedynamic is not supported", classfile.FormatMember(class, m))
		case classfile.OpNew:
			if err := in.initialize(ctx, insn.Str); err != nil {
				return nil, err
			}
			f.push(&Object{Class: insn.Str})
		case classfile.OpGetStatic:
			if err := in.initialize(ctx, insn.Owner); err != nil {
				return nil, err
			}
			v, ok := in.statics[insn.Owner+"."+insn.Name]
			if !ok {
				v = int32(0)
			}
			f.push(v)
		case classfile.OpPutStatic:
			if err := in.initialize(ctx, insn.Owner); err != nil {
				return nil, err
			}
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			in.statics[insn.Owner+"."+insn.Name] = v
		case classfile.OpAthrow:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			if obj, ok := v.(*Object); ok {
				return nil, &ThrownError{Class: obj.Class}
			}
			return nil, &ThrownError{Class: "java/lang/NullPointerException"}
		case classfile.OpIReturn, classfile.OpAReturn:
			return f.pop()
		case classfile.OpReturn:
			return nil, nil
		default:
			return nil, fmt.Errorf("%s: unsupported instruction %s", classfile.FormatMember(class, m), insn)
		}
	}
	return nil, fmt.Errorf("%s: fell off end of code", classfile.FormatMember(class, m))
}

func arith(op classfile.Opcode, a, b int32) (int32, error) {
	switch op {
	case classfile.OpIAdd:
		return a + b, nil
	case classfile.OpISub:
		return a - b, nil
	case classfile.OpIMul:
		return a * b, nil
	}
	if b == 0 {
		return 0, &ThrownError{Class: "java/lang/ArithmeticException", Message: "/ by zero"}
	}
	if op == classfile.OpIDiv {
		return a / b, nil
	}
	return a % b, nil
}

func branch(f *frame, op classfile.Opcode) (bool, error) {
	switch op {
	case classfile.OpGoto:
		return true, nil
	case classfile.OpIfEq, classfile.OpIfNe:
		v, err := f.popInt()
		if err != nil {
			return false, err
		}
		return (v == 0) == (op == classfile.OpIfEq), nil
	}
	b, err := f.popInt()
	if err != nil {
		return false, err
	}
	a, err := f.popInt()
	if err != nil {
		return false, err
	}
	switch op {
	case classfile.OpIfICmpEq:
		return a == b, nil
	case classfile.OpIfICmpNe:
		return a != b, nil
	case classfile.OpIfICmpLt:
		return a < b, nil
	default:
		return a >= b, nil
	}
}
