package classfile

import "fmt"

// VerifyError reports a method body whose control flow is invalid.
type VerifyError struct {
	Class  string
	Method string
	Index  int
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("verify %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("verify %s at %d: %s", e.Method, e.Index, e.Reason)
}

// Verify checks every method body of d: labels are declared once, jump and
// handler labels exist, local indexes are not negative, the operand stack
// never underflows, stack depths agree where control flow merges, and no
// path falls off the end of the code.
func Verify(d *Definition) error {
	for i := range d.Methods {
		m := &d.Methods[i]
		if m.Code == nil {
			continue
		}
		if err := verifyMethod(d.Name, m); err != nil {
			return err
		}
	}
	return nil
}

func verifyMethod(className string, m *Member) error {
	code := m.Code
	fail := func(index int, format string, args ...any) error {
		return &VerifyError{
			Class:  className,
			Method: FormatMember(className, m),
			Index:  index,
			Reason: fmt.Sprintf(format, args...),
		}
	}
	if len(code.Instructions) == 0 {
		return fail(-1, "empty code")
	}

	labels := make(map[string]int)
	for i, in := range code.Instructions {
		if (in.Op == OpILoad || in.Op == OpIStore) && in.Int < 0 {
			return fail(i, "negative local index %d", in.Int)
		}
		if in.Op != OpLabel {
			continue
		}
		if _, dup := labels[in.Label]; dup {
			return fail(i, "duplicate label %q", in.Label)
		}
		labels[in.Label] = i
	}

	depth := make([]int, len(code.Instructions))
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	enter := func(from, to, d int) error {
		switch {
		case depth[to] == -1:
			depth[to] = d
			work = append(work, to)
		case depth[to] != d:
			return fail(from, "inconsistent stack depth at %d: %d != %d", to, depth[to], d)
		}
		return nil
	}

	if err := enter(0, 0, 0); err != nil {
		return err
	}
	for _, h := range code.Handlers {
		for _, l := range []string{h.Start, h.End, h.Target} {
			if _, ok := labels[l]; !ok {
				return fail(-1, "handler references unknown label %q", l)
			}
		}
		if labels[h.Start] > labels[h.End] {
			return fail(-1, "handler range %s..%s is inverted", h.Start, h.End)
		}
		if err := enter(labels[h.Target], labels[h.Target], 1); err != nil {
			return err
		}
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := code.Instructions[i]

		pops, pushes, err := stackEffect(in)
		if err != nil {
			return fail(i, "%v", err)
		}
		if depth[i] < pops {
			return fail(i, "stack underflow on %s", in)
		}
		next := depth[i] - pops + pushes

		if in.Op.IsJump() {
			target, ok := labels[in.Label]
			if !ok {
				return fail(i, "jump to unknown label %q", in.Label)
			}
			if err := enter(i, target, next); err != nil {
				return err
			}
		}
		if in.Op.IsTerminal() {
			continue
		}
		if i+1 >= len(code.Instructions) {
			return fail(i, "falls off end of code")
		}
		if err := enter(i, i+1, next); err != nil {
			return err
		}
	}
	return nil
}

// stackEffect returns how many slots an instruction pops and pushes.
func stackEffect(in Instruction) (pops, pushes int, err error) {
	switch in.Op {
	case OpNop, OpLabel, OpBreakpoint, OpGoto, OpReturn:
		return 0, 0, nil
	case OpIConst, OpLdc, OpILoad, OpNew:
		return 0, 1, nil
	case OpIStore, OpPop, OpIfEq, OpIfNe, OpPutStatic, OpMonitorEnter, OpMonitorExit,
		OpAthrow, OpIReturn, OpAReturn:
		return 1, 0, nil
	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIRem:
		return 2, 1, nil
	case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe:
		return 2, 0, nil
	case OpDup:
		return 1, 2, nil
	case OpCheckCast:
		return 1, 1, nil
	case OpGetStatic:
		return 0, 1, nil
	case OpInvokeStatic, OpInvokeDynamic, OpInvokeVirtual, OpInvokeSpecial:
		mt, err := ParseMethodDescriptor(in.Descriptor)
		if err != nil {
			return 0, 0, err
		}
		pops = len(mt.Params)
		if in.Op == OpInvokeVirtual || in.Op == OpInvokeSpecial {
			pops++
		}
		return pops, mt.ReturnSlots(), nil
	}
	return 0, 0, fmt.Errorf("unknown opcode %s", in.Op)
}
