package rules

import (
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/code"
)

// AlwaysUseNonSynchronizedMethods clears the synchronized modifier; the
// sandbox is single-threaded.
type AlwaysUseNonSynchronizedMethods struct{}

func (AlwaysUseNonSynchronizedMethods) Define(_ code.Context, def *classfile.Definition) *classfile.Definition {
	for i := range def.Methods {
		def.Methods[i].Access &^= classfile.AccSynchronized
	}
	return def
}

// AlwaysUseStrictFloatingPointArithmetic marks every concrete method strict.
type AlwaysUseStrictFloatingPointArithmetic struct{}

func (AlwaysUseStrictFloatingPointArithmetic) Define(_ code.Context, def *classfile.Definition) *classfile.Definition {
	for i := range def.Methods {
		m := &def.Methods[i]
		if !m.Access.Has(classfile.AccAbstract) && !m.Access.Has(classfile.AccNative) {
			m.Access |= classfile.AccStrict
		}
	}
	return def
}

// StaticConstantRemover moves static constant initializers into the class
// constructor so every static field is assigned by sandboxed code.
type StaticConstantRemover struct{}

func (StaticConstantRemover) Define(_ code.Context, def *classfile.Definition) *classfile.Definition {
	var init []classfile.Instruction
	for i := range def.Fields {
		f := &def.Fields[i]
		if f.ConstantValue == nil || !f.Access.Has(classfile.AccStatic) {
			continue
		}
		init = append(init,
			classfile.IConst(*f.ConstantValue),
			classfile.Instruction{Op: classfile.OpPutStatic, Owner: def.Name, Name: f.Name, Descriptor: f.Descriptor},
		)
		f.ConstantValue = nil
	}
	if len(init) == 0 {
		return def
	}
	if clinit := def.Method(classfile.ClassConstructorName, "()V"); clinit != nil && clinit.Code != nil {
		clinit.Code.Instructions = append(init, clinit.Code.Instructions...)
		return def
	}
	def.Methods = append(def.Methods, classfile.Member{
		Name:       classfile.ClassConstructorName,
		Descriptor: "()V",
		Access:     classfile.AccStatic,
		Code:       &classfile.Code{Instructions: append(init, classfile.Op(classfile.OpReturn))},
	})
	return def
}

// StubOutFinalizerMethods replaces finalize() bodies with an immediate
// return; finalization timing is not deterministic.
type StubOutFinalizerMethods struct{}

func (StubOutFinalizerMethods) Define(_ code.Context, def *classfile.Definition) *classfile.Definition {
	for i := range def.Methods {
		m := &def.Methods[i]
		if m.Name == "finalize" && m.Descriptor == "()V" && !m.Access.Has(classfile.AccStatic) && m.Code != nil {
			m.Code = &classfile.Code{
				Instructions: []classfile.Instruction{classfile.Op(classfile.OpReturn)},
				MaxLocals:    1,
			}
		}
	}
	return def
}

// StubOutNativeMethods gives every native method a body that fails with a
// rule violation when called.
type StubOutNativeMethods struct{}

func (StubOutNativeMethods) Define(_ code.Context, def *classfile.Definition) *classfile.Definition {
	for i := range def.Methods {
		m := &def.Methods[i]
		if !m.Access.Has(classfile.AccNative) {
			continue
		}
		m.Access &^= classfile.AccNative
		m.Code = &classfile.Code{
			Instructions: code.RuleViolationTrap("Native method has been deleted; " + classfile.FormatMember(def.Name, m)),
			MaxLocals:    localsFor(m),
		}
	}
	return def
}

func localsFor(m *classfile.Member) int {
	n := 0
	if mt, err := classfile.ParseMethodDescriptor(m.Descriptor); err == nil {
		n = len(mt.Params)
	}
	if !m.Access.Has(classfile.AccStatic) {
		n++
	}
	return n
}
