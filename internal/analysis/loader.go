package analysis

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/detbox-dev/detbox/internal/classfile"
)

// ResourceSeparator joins a location and an entry name in resource paths.
const ResourceSeparator = "!/"

// ClassNotFoundError reports a class that is absent or not visible.
type ClassNotFoundError struct {
	Name   string
	Reason string
}

func (e *ClassNotFoundError) Error() string {
	if e.Reason == "" {
		return "class not found: " + e.Name
	}
	return fmt.Sprintf("class not found: %s (%s)", e.Name, e.Reason)
}

// SourceClassLoader finds original class definitions and resources. Lookups
// go to the parent loader first, so a child can add classes but never
// replace its parent's.
type SourceClassLoader struct {
	parent  *SourceClassLoader
	sources []Source
	byLoc   map[string]Source
	locs    []string
}

// NewSourceClassLoader creates a loader over sources, delegating to parent
// when it is non-nil.
func NewSourceClassLoader(parent *SourceClassLoader, sources ...Source) *SourceClassLoader {
	l := &SourceClassLoader{
		parent:  parent,
		sources: sources,
		byLoc:   make(map[string]Source),
	}
	for _, src := range sources {
		for _, loc := range src.Locations() {
			if _, dup := l.byLoc[loc]; dup || (parent != nil && parent.owns(loc)) {
				continue
			}
			l.byLoc[loc] = src
			l.locs = append(l.locs, loc)
		}
	}
	return l
}

func (l *SourceClassLoader) owns(loc string) bool {
	for p := l; p != nil; p = p.parent {
		if _, ok := p.byLoc[loc]; ok {
			return true
		}
	}
	return false
}

// Locations returns every location visible to this loader, ancestors first.
func (l *SourceClassLoader) Locations() []string {
	var locs []string
	if l.parent != nil {
		locs = l.parent.Locations()
	}
	return append(locs, l.locs...)
}

// Entries lists the entries at a location served by this loader or an
// ancestor.
func (l *SourceClassLoader) Entries(location string) ([]string, error) {
	for p := l; p != nil; p = p.parent {
		if src, ok := p.byLoc[location]; ok {
			return src.Entries(location)
		}
	}
	return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
}

// ReadEntry reads an entry from a location served by this loader or an
// ancestor.
func (l *SourceClassLoader) ReadEntry(location, name string) ([]byte, error) {
	for p := l; p != nil; p = p.parent {
		if src, ok := p.byLoc[location]; ok {
			return src.ReadEntry(location, name)
		}
	}
	return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
}

// Resources returns "<location>!/<name>" for every location that contains
// the named entry, in lookup order.
func (l *SourceClassLoader) Resources(name string) ([]string, error) {
	var found []string
	for _, loc := range l.Locations() {
		_, err := l.ReadEntry(loc, name)
		switch {
		case err == nil:
			found = append(found, loc+ResourceSeparator+name)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}
	return found, nil
}

// SplitResource separates a resource path into its location and entry.
func SplitResource(resource string) (location, entry string, ok bool) {
	i := strings.LastIndex(resource, ResourceSeparator)
	if i < 0 {
		return "", "", false
	}
	return resource[:i], resource[i+len(ResourceSeparator):], true
}

// LoadClass returns the binary form of the named class together with the
// location it was found at.
func (l *SourceClassLoader) LoadClass(name string) ([]byte, string, error) {
	entry := classfile.EntryName(name)
	for _, loc := range l.Locations() {
		data, err := l.ReadEntry(loc, entry)
		if err == nil {
			return data, loc, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", &ClassNotFoundError{Name: name}
}
