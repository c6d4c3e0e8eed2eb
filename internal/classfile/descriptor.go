package classfile

import (
	"fmt"
	"sort"
	"strings"
)

// MethodType is a parsed method descriptor. Every value occupies one
// operand stack slot.
type MethodType struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits a descriptor such as "(ILjava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodType, error) {
	var mt MethodType
	if !strings.HasPrefix(desc, "(") {
		return mt, fmt.Errorf("invalid method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldTypeLen(desc, i)
		if err != nil {
			return mt, err
		}
		mt.Params = append(mt.Params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return mt, fmt.Errorf("invalid method descriptor %q", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret, 0)
		if err != nil || n != len(ret) {
			return mt, fmt.Errorf("invalid return type in %q", desc)
		}
	}
	mt.Return = ret
	return mt, nil
}

// ReturnSlots is 0 for void methods and 1 otherwise.
func (mt MethodType) ReturnSlots() int {
	if mt.Return == "V" {
		return 0
	}
	return 1
}

func fieldTypeLen(desc string, i int) (int, error) {
	start := i
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1 - start, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 2 {
			return 0, fmt.Errorf("invalid object type in %q", desc)
		}
		return i + end + 1 - start, nil
	}
	return 0, fmt.Errorf("invalid type %q in %q", desc[i], desc)
}

// mapDescriptor rewrites every object type in a field or method descriptor.
func mapDescriptor(desc string, fn func(string) string) string {
	if strings.IndexByte(desc, 'L') < 0 {
		return desc
	}
	var b strings.Builder
	for i := 0; i < len(desc); i++ {
		c := desc[i]
		b.WriteByte(c)
		if c != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			b.WriteString(desc[i+1:])
			break
		}
		b.WriteString(fn(desc[i+1 : i+end]))
		b.WriteByte(';')
		i += end
	}
	return b.String()
}

// classOperand strips array dimensions from a class operand, returning ""
// for primitive arrays.
func classOperand(name string) string {
	if !strings.HasPrefix(name, "[") {
		return name
	}
	elem := strings.TrimLeft(name, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1]
	}
	return ""
}

// References returns the sorted set of classes a definition refers to,
// excluding itself.
func References(d *Definition) []string {
	seen := make(map[string]struct{})
	add := func(name string) string {
		if name = classOperand(name); name != "" && name != d.Name {
			seen[name] = struct{}{}
		}
		return name
	}
	visitNames(d, add)
	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

// Relocate rewrites every class name in d through mapper, in place.
func Relocate(d *Definition, mapper func(string) string) {
	mapOperand := func(name string) string {
		if !strings.HasPrefix(name, "[") {
			return mapper(name)
		}
		return mapDescriptor(name, mapper)
	}
	d.Name = mapper(d.Name)
	if d.Super != "" {
		d.Super = mapper(d.Super)
	}
	for i := range d.Interfaces {
		d.Interfaces[i] = mapper(d.Interfaces[i])
	}
	relocateMembers(d.Fields, mapper, mapOperand)
	relocateMembers(d.Methods, mapper, mapOperand)
}

func relocateMembers(members []Member, mapper, mapOperand func(string) string) {
	for i := range members {
		m := &members[i]
		m.Descriptor = mapDescriptor(m.Descriptor, mapper)
		if m.Code == nil {
			continue
		}
		for j := range m.Code.Instructions {
			in := &m.Code.Instructions[j]
			if in.Owner != "" {
				in.Owner = mapOperand(in.Owner)
			}
			if in.Descriptor != "" {
				in.Descriptor = mapDescriptor(in.Descriptor, mapper)
			}
			if in.Op == OpNew || in.Op == OpCheckCast {
				in.Str = mapOperand(in.Str)
			}
		}
		for j := range m.Code.Handlers {
			if m.Code.Handlers[j].Type != "" {
				m.Code.Handlers[j].Type = mapper(m.Code.Handlers[j].Type)
			}
		}
	}
}

// visitNames calls visit on every class name in d except d.Name.
func visitNames(d *Definition, visit func(string) string) {
	if d.Super != "" {
		visit(d.Super)
	}
	for _, iface := range d.Interfaces {
		visit(iface)
	}
	collect := func(desc string) {
		mapDescriptor(desc, visit)
	}
	for _, group := range [][]Member{d.Fields, d.Methods} {
		for _, m := range group {
			collect(m.Descriptor)
			if m.Code == nil {
				continue
			}
			for _, in := range m.Code.Instructions {
				if in.Owner != "" {
					visit(in.Owner)
				}
				if in.Descriptor != "" {
					collect(in.Descriptor)
				}
				if in.Op == OpNew || in.Op == OpCheckCast {
					visit(in.Str)
				}
			}
			for _, h := range m.Code.Handlers {
				if h.Type != "" {
					visit(h.Type)
				}
			}
		}
	}
}
