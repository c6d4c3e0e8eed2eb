package execution

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/code"
)

const objectClass = "sandbox/java/lang/Object"

type fakeEnv struct {
	classes map[string]*classfile.Definition
	acc     *CostAccounter
}

func newEnv(p Profile, defs ...*classfile.Definition) *fakeEnv {
	env := &fakeEnv{classes: make(map[string]*classfile.Definition), acc: NewCostAccounter(p)}
	for _, d := range defs {
		env.classes[d.Name] = d
	}
	return env
}

func (e *fakeEnv) LoadClass(name string) (*classfile.Definition, error) {
	if d, ok := e.classes[name]; ok {
		return d, nil
	}
	return nil, &analysis.ClassNotFoundError{Name: name}
}

func (e *fakeEnv) ObjectClass() string { return objectClass }
func (e *fakeEnv) Accounter() *CostAccounter { return e.acc }

func method(name, desc string, locals int, insns ...classfile.Instruction) classfile.Member {
	return classfile.Member{
		Name:       name,
		Descriptor: desc,
		Access:     classfile.AccStatic,
		Code:       &classfile.Code{Instructions: insns, MaxLocals: locals},
	}
}

func recordCall(resource string) classfile.Instruction {
	return classfile.InvokeStatic(code.CostAccounterName, resource, "()V")
}

// counter calls f n times, where n is its argument.
func counter() *classfile.Definition {
	return &classfile.Definition{
		Name:  "sandbox/Counter",
		Super: objectClass,
		Methods: []classfile.Member{
			method("f", "()V", 0,
				recordCall("recordInvocation"),
				classfile.Op(classfile.OpReturn),
			),
			method("run", "(I)V", 1,
				recordCall("recordInvocation"),
				classfile.Mark("loop"),
				classfile.ILoad(0),
				classfile.Jump(classfile.OpIfEq, "done"),
				classfile.InvokeStatic("sandbox/Counter", "f", "()V"),
				classfile.ILoad(0),
				classfile.IConst(1),
				classfile.Op(classfile.OpISub),
				classfile.IStore(0),
				classfile.Jump(classfile.OpGoto, "loop"),
				classfile.Mark("done"),
				classfile.Op(classfile.OpReturn),
			),
		},
	}
}

func TestCostAccounter(t *testing.T) {
	p := Profile{Name: "tight", AllocationCostThreshold: 2, InvocationCostThreshold: 2, JumpCostThreshold: 2, ThrowCostThreshold: 2}

	tests := []struct {
		name     string
		record   func(*CostAccounter) error
		resource string
	}{
		{name: "allocation", record: (*CostAccounter).RecordAllocation, resource: Allocation},
		{name: "invocation", record: (*CostAccounter).RecordInvocation, resource: Invocation},
		{name: "jump", record: (*CostAccounter).RecordJump, resource: Jump},
		{name: "throw", record: (*CostAccounter).RecordThrow, resource: Throw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewCostAccounter(p)
			for i := 0; i < 2; i++ {
				if err := tt.record(acc); err != nil {
					t.Fatalf("record %d: unexpected error: %v", i, err)
				}
			}
			err := tt.record(acc)
			var exceeded *ResourceExceededError
			if !errors.As(err, &exceeded) {
				t.Fatalf("expected *ResourceExceededError, got %v", err)
			}
			if exceeded.Resource != tt.resource {
				t.Errorf("Resource = %q, want %q", exceeded.Resource, tt.resource)
			}
			if exceeded.Threshold != 2 {
				t.Errorf("Threshold = %d, want 2", exceeded.Threshold)
			}
		})
	}
}

func TestInvocationThreshold(t *testing.T) {
	p := UnlimitedProfile
	p.Name = "five"
	p.InvocationCostThreshold = 5

	t.Run("exactly_threshold_succeeds", func(t *testing.T) {
		env := newEnv(p, counter())
		// One entry into run plus four calls to f.
		if _, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Counter", "run", "(I)V", int32(4)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := env.acc.Costs().Invocations; got != 5 {
			t.Errorf("Invocations = %d, want 5", got)
		}
	})

	t.Run("one_more_fails", func(t *testing.T) {
		env := newEnv(p, counter())
		_, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Counter", "run", "(I)V", int32(5))
		var exceeded *ResourceExceededError
		if !errors.As(err, &exceeded) {
			t.Fatalf("expected *ResourceExceededError, got %v", err)
		}
		if exceeded.Resource != Invocation {
			t.Errorf("Resource = %q, want %q", exceeded.Resource, Invocation)
		}
	})
}

func TestInterpreter(t *testing.T) {
	exception := &classfile.Definition{
		Name:  "sandbox/Boom",
		Super: objectClass,
		Methods: []classfile.Member{{
			Name:       classfile.ConstructorName,
			Descriptor: "()V",
			Code: &classfile.Code{MaxLocals: 1, Instructions: []classfile.Instruction{
				classfile.ILoad(0),
				classfile.Invoke(classfile.OpInvokeSpecial, objectClass, classfile.ConstructorName, "()V"),
				classfile.Op(classfile.OpReturn),
			}},
		}},
	}
	statics := &classfile.Definition{
		Name:  "sandbox/Statics",
		Super: objectClass,
		Methods: []classfile.Member{
			method(classfile.ClassConstructorName, "()V", 0,
				classfile.IConst(7),
				classfile.Instruction{Op: classfile.OpPutStatic, Owner: "sandbox/Statics", Name: "x", Descriptor: "I"},
				classfile.Op(classfile.OpReturn),
			),
			method("get", "()I", 0,
				classfile.Instruction{Op: classfile.OpGetStatic, Owner: "sandbox/Statics", Name: "x", Descriptor: "I"},
				classfile.Op(classfile.OpIReturn),
			),
		},
	}
	calc := &classfile.Definition{
		Name:  "sandbox/Calc",
		Super: objectClass,
		Methods: []classfile.Member{
			method("add", "(II)I", 2,
				classfile.ILoad(0),
				classfile.ILoad(1),
				classfile.InvokeStatic(code.ExactMathName, "addExact", "(II)I"),
				classfile.Op(classfile.OpIReturn),
			),
			method("div", "(II)I", 2,
				classfile.ILoad(0),
				classfile.ILoad(1),
				classfile.Op(classfile.OpIDiv),
				classfile.Op(classfile.OpIReturn),
			),
			method("trap", "()V", 0, code.RuleViolationTrap("Disallowed reference to API; java/lang/System.nanoTime()J")...),
			method("raise", "()V", 0,
				classfile.New("sandbox/Boom"),
				classfile.Op(classfile.OpDup),
				classfile.Invoke(classfile.OpInvokeSpecial, "sandbox/Boom", classfile.ConstructorName, "()V"),
				classfile.Op(classfile.OpAthrow),
			),
			method("recurse", "()V", 0,
				classfile.InvokeStatic("sandbox/Calc", "recurse", "()V"),
				classfile.Op(classfile.OpReturn),
			),
		},
	}

	tests := []struct {
		name      string
		method    string
		desc      string
		args      []any
		want      any
		wantThrow string
	}{
		{name: "adds", method: "add", desc: "(II)I", args: []any{int32(2), int32(3)}, want: int32(5)},
		{name: "add_overflow_throws", method: "add", desc: "(II)I", args: []any{int32(math.MaxInt32), int32(1)}, wantThrow: "java/lang/ArithmeticException"},
		{name: "divides", method: "div", desc: "(II)I", args: []any{int32(7), int32(2)}, want: int32(3)},
		{name: "divide_by_zero_throws", method: "div", desc: "(II)I", args: []any{int32(7), int32(0)}, wantThrow: "java/lang/ArithmeticException"},
		{name: "throws_allocated_object", method: "raise", desc: "()V", wantThrow: "sandbox/Boom"},
		{name: "bounds_recursion", method: "recurse", desc: "()V", wantThrow: "java/lang/StackOverflowError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(DefaultProfile, calc, exception)
			got, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Calc", tt.method, tt.desc, tt.args...)

			if tt.wantThrow != "" {
				var thrown *ThrownError
				if !errors.As(err, &thrown) {
					t.Fatalf("expected *ThrownError, got %v", err)
				}
				if thrown.Class != tt.wantThrow {
					t.Errorf("thrown %q, want %q", thrown.Class, tt.wantThrow)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("trap_raises_rule_violation", func(t *testing.T) {
		env := newEnv(DefaultProfile, calc)
		_, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Calc", "trap", "()V")
		var violation *RuleViolationError
		if !errors.As(err, &violation) {
			t.Fatalf("expected *RuleViolationError, got %v", err)
		}
		if violation.Message != "Disallowed reference to API; java/lang/System.nanoTime()J" {
			t.Errorf("Message = %q", violation.Message)
		}
	})

	t.Run("runs_static_initializer", func(t *testing.T) {
		env := newEnv(DefaultProfile, statics)
		got, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Statics", "get", "()I")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != int32(7) {
			t.Errorf("got %v, want 7", got)
		}
	})

	t.Run("missing_class", func(t *testing.T) {
		env := newEnv(DefaultProfile)
		_, err := NewInterpreter(env).InvokeStatic(context.Background(), "sandbox/Nope", "run", "()V")
		var notFound *analysis.ClassNotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("expected *analysis.ClassNotFoundError, got %v", err)
		}
	})

	t.Run("rejects_negative_local", func(t *testing.T) {
		bad := &classfile.Definition{
			Name:  "sandbox/Bad",
			Super: objectClass,
			Methods: []classfile.Member{method("run", "(I)I", 1,
				classfile.ILoad(-1),
				classfile.Op(classfile.OpIReturn),
			)},
		}
		_, err := NewInterpreter(newEnv(DefaultProfile, bad)).InvokeStatic(context.Background(), "sandbox/Bad", "run", "(I)I", int32(1))
		if err == nil || !strings.Contains(err.Error(), "local -1 out of range") {
			t.Errorf("got %v, want local -1 out of range", err)
		}
	})

	t.Run("stops_on_cancel", func(t *testing.T) {
		spin := &classfile.Definition{
			Name:  "sandbox/Spin",
			Super: objectClass,
			Methods: []classfile.Member{method("run", "()V", 0,
				classfile.Mark("top"),
				classfile.Jump(classfile.OpGoto, "top"),
			)},
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewInterpreter(newEnv(DefaultProfile, spin)).InvokeStatic(ctx, "sandbox/Spin", "run", "()V")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestProfileByName(t *testing.T) {
	custom := Profile{Name: "tiny", InvocationCostThreshold: 10}

	tests := []struct {
		name    string
		lookup  string
		want    string
		wantErr bool
	}{
		{name: "default", lookup: "default", want: "default"},
		{name: "case_insensitive", lookup: "Unlimited", want: "unlimited"},
		{name: "custom", lookup: "tiny", want: "tiny"},
		{name: "unknown", lookup: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ProfileByName(tt.lookup, custom)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name != tt.want {
				t.Errorf("got %q, want %q", p.Name, tt.want)
			}
		})
	}
}

func TestProfileValidate(t *testing.T) {
	if err := DefaultProfile.Validate(); err != nil {
		t.Errorf("DefaultProfile.Validate() error: %v", err)
	}
	bad := DefaultProfile
	bad.JumpCostThreshold = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative threshold")
	}
	if err := (Profile{}).Validate(); err == nil {
		t.Error("expected error for unnamed profile")
	}
}
