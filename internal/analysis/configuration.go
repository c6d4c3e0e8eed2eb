// Package analysis describes the class loading boundary of a sandbox: where
// original classes come from, which of them are visible, and the namespace
// prefix that sandboxed copies live under.
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/detbox-dev/detbox/internal/classfile"
)

const (
	// DefaultPrefix is the namespace applied to every sandboxed class.
	DefaultPrefix = "sandbox/"

	// RuntimePackage holds support classes that generated code calls into.
	// They are provided by the execution layer and never relocated.
	RuntimePackage = "detbox/runtime/"

	// DefaultSupportedVersions accepts class format versions 45 through 61.
	DefaultSupportedVersions = ">= 45.0, <= 61.0"
)

// Options configures a root Configuration.
type Options struct {
	// Prefix defaults to DefaultPrefix. It must end with '/'.
	Prefix string

	// Visible holds glob patterns ('/'-separated) that a class name must
	// match to be loadable. An empty list makes every class visible.
	Visible []string

	// Hidden holds glob patterns for classes that are never loadable.
	Hidden []string

	// SupportedVersions is a semver constraint on class format versions.
	SupportedVersions string

	Sources []Source
}

// Configuration is immutable once built. A child refines its parent: it may
// hide more classes and add sources, but it never alters the parent.
type Configuration struct {
	parent            *Configuration
	prefix            string
	supportedVersions string
	visible           []pattern
	hidden            []pattern
	loader            *SourceClassLoader

	// own holds the classes a child's sources add. They are visible to the
	// child even when the root's visible patterns do not admit them.
	own map[string]struct{}
}

type pattern struct {
	text string
	glob glob.Glob
}

func compilePatterns(texts []string) ([]pattern, error) {
	patterns := make([]pattern, 0, len(texts))
	for _, text := range texts {
		g, err := glob.Compile(text, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid class pattern %q: %w", text, err)
		}
		patterns = append(patterns, pattern{text: text, glob: g})
	}
	return patterns, nil
}

// New builds a root configuration.
func New(opts Options) (*Configuration, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") || strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("invalid sandbox prefix %q", prefix)
	}
	if strings.HasPrefix(RuntimePackage, prefix) || strings.HasPrefix(prefix, RuntimePackage) {
		return nil, fmt.Errorf("sandbox prefix %q overlaps runtime package", prefix)
	}
	visible, err := compilePatterns(opts.Visible)
	if err != nil {
		return nil, err
	}
	hidden, err := compilePatterns(opts.Hidden)
	if err != nil {
		return nil, err
	}
	versions := opts.SupportedVersions
	if versions == "" {
		versions = DefaultSupportedVersions
	}
	return &Configuration{
		prefix:            prefix,
		supportedVersions: versions,
		visible:           visible,
		hidden:            hidden,
		loader:            NewSourceClassLoader(nil, opts.Sources...),
	}, nil
}

// Parent returns the configuration this one was derived from, or nil.
func (c *Configuration) Parent() *Configuration { return c.parent }

// Prefix returns the sandbox namespace prefix.
func (c *Configuration) Prefix() string { return c.prefix }

// SupportedVersions returns the accepted class format version constraint.
func (c *Configuration) SupportedVersions() string { return c.supportedVersions }

// SupportingClassLoader returns the loader for original definitions.
func (c *Configuration) SupportingClassLoader() *SourceClassLoader { return c.loader }

// Depth is 0 for a root configuration.
func (c *Configuration) Depth() int {
	depth := 0
	for p := c.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

// IsPinned reports whether a class belongs to the runtime and is therefore
// referenced as-is from sandboxed code.
func IsPinned(name string) bool {
	return strings.HasPrefix(name, RuntimePackage)
}

// IsSandboxed reports whether name already lives in the sandbox namespace.
func (c *Configuration) IsSandboxed(name string) bool {
	return strings.HasPrefix(name, c.prefix)
}

// SandboxName maps an original class name into the sandbox namespace.
func (c *Configuration) SandboxName(name string) string {
	if IsPinned(name) || c.IsSandboxed(name) {
		return name
	}
	return c.prefix + name
}

// OriginalName strips the sandbox prefix.
func (c *Configuration) OriginalName(name string) string {
	return strings.TrimPrefix(name, c.prefix)
}

// IsVisible reports whether an original class may be loaded. A class is
// visible when no configuration in the chain hides it and either the root's
// visible patterns admit it or a child in the chain supplies it.
func (c *Configuration) IsVisible(name string) bool {
	if name == "" || IsPinned(name) || c.IsSandboxed(name) {
		return false
	}
	root := c
	for p := c; p != nil; p = p.parent {
		for _, h := range p.hidden {
			if h.glob.Match(name) {
				return false
			}
		}
		root = p
	}
	if len(root.visible) == 0 {
		return true
	}
	for _, v := range root.visible {
		if v.glob.Match(name) {
			return true
		}
	}
	for p := c; p.parent != nil; p = p.parent {
		if _, ok := p.own[name]; ok {
			return true
		}
	}
	return false
}

// Scope describes the class boundary as text: the prefix, the supported
// versions, and each configuration's patterns and own classes, root first.
// Configurations with equal scopes over equal sources admit the same
// classes.
func (c *Configuration) Scope() string {
	var chain []*Configuration
	for p := c; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "prefix=%s;versions=%s", c.prefix, c.supportedVersions)
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		own := make([]string, 0, len(p.own))
		for name := range p.own {
			own = append(own, name)
		}
		sort.Strings(own)
		fmt.Fprintf(&b, "|visible=%s;hidden=%s;own=%s",
			patternTexts(p.visible), patternTexts(p.hidden), strings.Join(own, ","))
	}
	return b.String()
}

func patternTexts(patterns []pattern) string {
	texts := make([]string, len(patterns))
	for i, p := range patterns {
		texts[i] = p.text
	}
	sort.Strings(texts)
	return strings.Join(texts, ",")
}

// LoadDefinition loads and decodes an original class definition.
func (c *Configuration) LoadDefinition(name string) (*classfile.Definition, error) {
	if !c.IsVisible(name) {
		return nil, &ClassNotFoundError{Name: name, Reason: "not visible"}
	}
	data, location, err := c.loader.LoadClass(name)
	if err != nil {
		return nil, err
	}
	def, err := classfile.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s%s%s: %w", location, ResourceSeparator, classfile.EntryName(name), err)
	}
	if def.Name != name {
		return nil, fmt.Errorf("%s%s%s: declares class %s", location, ResourceSeparator, classfile.EntryName(name), def.Name)
	}
	return def, nil
}

// CreateChild starts a child configuration that adds userSource to this
// one. Nothing changes until Build is called, and Build never modifies the
// receiver.
func (c *Configuration) CreateChild(userSource Source) *ChildBuilder {
	b := &ChildBuilder{parent: c}
	if userSource != nil {
		b.sources = append(b.sources, userSource)
	}
	return b
}

// ChildBuilder is the mutable view of a child configuration under
// construction.
type ChildBuilder struct {
	parent  *Configuration
	sources []Source
	hidden  []string
}

// AddSource makes more classes available to the child.
func (b *ChildBuilder) AddSource(src Source) *ChildBuilder {
	if src != nil {
		b.sources = append(b.sources, src)
	}
	return b
}

// Hide narrows the child's visible set.
func (b *ChildBuilder) Hide(patterns ...string) *ChildBuilder {
	b.hidden = append(b.hidden, patterns...)
	return b
}

// Build finalizes the child. Classes in the added sources become visible
// to the child unless a hidden pattern in the chain matches them. A name the
// parent already serves keeps the parent's visibility, since lookups are
// parent-first.
func (b *ChildBuilder) Build() (*Configuration, error) {
	hidden, err := compilePatterns(b.hidden)
	if err != nil {
		return nil, err
	}
	own := make(map[string]struct{})
	for _, src := range b.sources {
		for _, loc := range src.Locations() {
			entries, err := src.Entries(loc)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", loc, err)
			}
			for _, entry := range entries {
				name, ok := classfile.ClassNameOf(entry)
				if !ok {
					continue
				}
				_, _, err := b.parent.loader.LoadClass(name)
				var notFound *ClassNotFoundError
				switch {
				case errors.As(err, &notFound):
					own[name] = struct{}{}
				case err != nil:
					return nil, err
				}
			}
		}
	}
	return &Configuration{
		parent:            b.parent,
		prefix:            b.parent.prefix,
		supportedVersions: b.parent.supportedVersions,
		hidden:            hidden,
		loader:            NewSourceClassLoader(b.parent.loader, b.sources...),
		own:               own,
	}, nil
}
