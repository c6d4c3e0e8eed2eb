// Package classfile defines the portable class format that detbox analyzes,
// rewrites and executes.
//
// A class is a Definition holding fields and methods. Method bodies are flat
// instruction lists in which control flow targets named labels, so a rewrite
// can insert or drop instructions without renumbering anything.
package classfile

import "strings"

// Well-known class names. Names are internal names: '/'-separated.
const (
	ObjectName            = "java/lang/Object"
	ThrowableName         = "java/lang/Throwable"
	StackTraceElementName = "java/lang/StackTraceElement"

	ConstructorName      = "<init>"
	ClassConstructorName = "<clinit>"

	// ClassSuffix is appended to an internal name to form an archive entry.
	ClassSuffix = ".class"
)

// Access holds class and member modifier flags.
type Access uint16

const (
	AccPublic       Access = 0x0001
	AccPrivate      Access = 0x0002
	AccProtected    Access = 0x0004
	AccStatic       Access = 0x0008
	AccFinal        Access = 0x0010
	AccSynchronized Access = 0x0020
	AccNative       Access = 0x0100
	AccInterface    Access = 0x0200
	AccAbstract     Access = 0x0400
	AccStrict       Access = 0x0800
)

// Has reports whether all of the given flags are set.
func (a Access) Has(flags Access) bool {
	return a&flags == flags
}

// Definition is a single class.
type Definition struct {
	Name        string   `cbor:"1,keyasint"`
	Super       string   `cbor:"2,keyasint,omitempty"`
	Interfaces  []string `cbor:"3,keyasint,omitempty"`
	Access      Access   `cbor:"4,keyasint,omitempty"`
	Version     string   `cbor:"5,keyasint,omitempty"`
	Annotations []string `cbor:"6,keyasint,omitempty"`
	SourceFile  string   `cbor:"7,keyasint,omitempty"`
	Fields      []Member `cbor:"8,keyasint,omitempty"`
	Methods     []Member `cbor:"9,keyasint,omitempty"`
}

// Member is a field or a method.
type Member struct {
	Name          string   `cbor:"1,keyasint"`
	Descriptor    string   `cbor:"2,keyasint"`
	Access        Access   `cbor:"3,keyasint,omitempty"`
	Annotations   []string `cbor:"4,keyasint,omitempty"`
	ConstantValue *int64   `cbor:"5,keyasint,omitempty"`
	Code          *Code    `cbor:"6,keyasint,omitempty"`
}

// IsMethod reports whether the member has a method descriptor.
func (m *Member) IsMethod() bool {
	return strings.HasPrefix(m.Descriptor, "(")
}

// Code is a method body.
type Code struct {
	Instructions []Instruction `cbor:"1,keyasint,omitempty"`
	Handlers     []Handler     `cbor:"2,keyasint,omitempty"`
	MaxLocals    int           `cbor:"3,keyasint,omitempty"`
}

// Handler routes throwables raised between the Start and End labels to
// Target. An empty Type catches everything.
type Handler struct {
	Start  string `cbor:"1,keyasint"`
	End    string `cbor:"2,keyasint"`
	Target string `cbor:"3,keyasint"`
	Type   string `cbor:"4,keyasint,omitempty"`
}

// Method returns the method with the given name and descriptor, or nil.
func (d *Definition) Method(name, descriptor string) *Member {
	for i := range d.Methods {
		if d.Methods[i].Name == name && d.Methods[i].Descriptor == descriptor {
			return &d.Methods[i]
		}
	}
	return nil
}

// MethodByName returns the first method with the given name, or nil.
func (d *Definition) MethodByName(name string) *Member {
	for i := range d.Methods {
		if d.Methods[i].Name == name {
			return &d.Methods[i]
		}
	}
	return nil
}

// EntryName returns the archive entry name for a class.
func EntryName(className string) string {
	return className + ClassSuffix
}

// ClassNameOf returns the internal class name for an archive entry, and
// false when the entry is not a class.
func ClassNameOf(entry string) (string, bool) {
	if !strings.HasSuffix(entry, ClassSuffix) || entry == ClassSuffix {
		return "", false
	}
	return strings.TrimSuffix(entry, ClassSuffix), true
}

// FormatMember renders a member as Class.name(desc), the form used in
// violation messages.
func FormatMember(className string, m *Member) string {
	if m == nil {
		return className
	}
	if m.IsMethod() {
		return className + "." + m.Name + m.Descriptor
	}
	return className + "." + m.Name + ":" + m.Descriptor
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Interfaces = cloneStrings(d.Interfaces)
	c.Annotations = cloneStrings(d.Annotations)
	c.Fields = cloneMembers(d.Fields)
	c.Methods = cloneMembers(d.Methods)
	return &c
}

func cloneMembers(src []Member) []Member {
	if src == nil {
		return nil
	}
	dst := make([]Member, len(src))
	for i, m := range src {
		dst[i] = m
		dst[i].Annotations = cloneStrings(m.Annotations)
		if m.ConstantValue != nil {
			v := *m.ConstantValue
			dst[i].ConstantValue = &v
		}
		if m.Code != nil {
			code := *m.Code
			code.Instructions = append([]Instruction(nil), m.Code.Instructions...)
			code.Handlers = append([]Handler(nil), m.Code.Handlers...)
			dst[i].Code = &code
		}
	}
	return dst
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}
