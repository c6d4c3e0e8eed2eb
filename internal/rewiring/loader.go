package rewiring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/detbox-dev/detbox/internal/classfile"
)

// ClassLoader hands out sandboxed classes to one task. It is backed by a
// shared Generator but keeps its own record of what it has loaded.
type ClassLoader struct {
	gen *Generator

	mu      sync.Mutex
	decoded map[string]*classfile.Definition
	loaded  map[string]*ByteCode
}

// NewClassLoader creates a loader that generates through gen.
func NewClassLoader(gen *Generator) *ClassLoader {
	return &ClassLoader{
		gen:     gen,
		decoded: make(map[string]*classfile.Definition),
		loaded:  make(map[string]*ByteCode),
	}
}

// ToSandboxClass generates (or fetches) the sandboxed copy of a class. The
// name may be given in original or sandboxed form.
func (l *ClassLoader) ToSandboxClass(name string) (*ByteCode, error) {
	a := l.gen.Analysis()
	if a.IsSandboxed(name) {
		name = a.OriginalName(name)
	}
	bc, err := l.gen.Generate(name)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.loaded[bc.Name] = bc
	l.mu.Unlock()
	return bc, nil
}

// LoadClass returns the decoded definition of a sandboxed class.
func (l *ClassLoader) LoadClass(sandboxName string) (*classfile.Definition, error) {
	l.mu.Lock()
	def, ok := l.decoded[sandboxName]
	l.mu.Unlock()
	if ok {
		return def, nil
	}
	if !l.gen.Analysis().IsSandboxed(sandboxName) {
		return nil, fmt.Errorf("load %s: not a sandboxed class name", sandboxName)
	}
	bc, err := l.ToSandboxClass(sandboxName)
	if err != nil {
		return nil, err
	}
	def, err = classfile.Unmarshal(bc.Bytes)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sandboxName, err)
	}
	l.mu.Lock()
	l.decoded[sandboxName] = def
	l.mu.Unlock()
	return def, nil
}

// ResolveReferences generates every class reachable from known that is not
// itself in known, adding each to known as it goes. Classes already in known
// are assumed to be loaded, and their references are walked.
func (l *ClassLoader) ResolveReferences(known map[string]struct{}) error {
	var queue []string
	for name := range known {
		queue = append(queue, name)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		bc, err := l.cached(name)
		if err != nil {
			return err
		}
		if bc == nil {
			continue
		}
		for _, ref := range bc.References {
			if _, seen := known[ref]; seen {
				continue
			}
			known[ref] = struct{}{}
			if _, err := l.ToSandboxClass(ref); err != nil {
				return fmt.Errorf("resolve %s referenced by %s: %w", ref, name, err)
			}
			queue = append(queue, ref)
		}
	}
	return nil
}

// cached returns the generated form of a known class, or nil for classes
// such as the seeded platform types that were never generated.
func (l *ClassLoader) cached(name string) (*ByteCode, error) {
	l.mu.Lock()
	bc, ok := l.loaded[l.gen.Analysis().SandboxName(name)]
	l.mu.Unlock()
	if ok {
		return bc, nil
	}
	if bc, ok := l.gen.Cache().Get(Key{Class: name, RuleSet: l.gen.cfg.RuleSet}); ok {
		return bc, nil
	}
	return nil, nil
}

// Loaded returns every class this loader has handed out, sorted by name.
func (l *ClassLoader) Loaded() []*ByteCode {
	l.mu.Lock()
	all := make([]*ByteCode, 0, len(l.loaded))
	for _, bc := range l.loaded {
		all = append(all, bc)
	}
	l.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}
