package analysis

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
)

// Source supplies class definitions and resources from one or more
// locations. A location is typically an archive path.
type Source interface {
	// Locations returns every location this source serves, in lookup order.
	Locations() []string

	// Entries lists the entry names stored at location, in archive order.
	Entries(location string) ([]string, error)

	// ReadEntry returns the content of a named entry. It returns an error
	// wrapping fs.ErrNotExist when the entry is absent.
	ReadEntry(location, name string) ([]byte, error)
}

// ArchiveSource serves entries from zip archives on disk.
type ArchiveSource struct {
	paths    []string
	archives map[string]*archive
}

type archive struct {
	reader *zip.ReadCloser
	files  map[string]*zip.File
	order  []string
}

// OpenArchives opens each archive for reading. The returned source must be
// closed by the caller.
func OpenArchives(paths ...string) (*ArchiveSource, error) {
	src := &ArchiveSource{archives: make(map[string]*archive)}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		if _, seen := src.archives[abs]; seen {
			continue
		}
		r, err := zip.OpenReader(abs)
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("open archive %s: %w", p, err)
		}
		a := &archive{reader: r, files: make(map[string]*zip.File, len(r.File))}
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			a.files[f.Name] = f
			a.order = append(a.order, f.Name)
		}
		src.paths = append(src.paths, abs)
		src.archives[abs] = a
	}
	return src, nil
}

// Locations returns the absolute archive paths.
func (s *ArchiveSource) Locations() []string {
	return append([]string(nil), s.paths...)
}

// Entries lists the archive's file entries.
func (s *ArchiveSource) Entries(location string) ([]string, error) {
	a, ok := s.archives[location]
	if !ok {
		return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
	}
	return append([]string(nil), a.order...), nil
}

// ReadEntry reads one file from an archive.
func (s *ArchiveSource) ReadEntry(location, name string) ([]byte, error) {
	a, ok := s.archives[location]
	if !ok {
		return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
	}
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%s!/%s: %w", location, name, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("read %s!/%s: %w", location, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s!/%s: %w", location, name, err)
	}
	return data, nil
}

// Close releases all open archives.
func (s *ArchiveSource) Close() error {
	var first error
	for _, p := range s.paths {
		if err := s.archives[p].reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemorySource serves entries held in memory under a single location.
type MemorySource struct {
	location string
	entries  map[string][]byte
}

// NewMemorySource copies entries into a new source.
func NewMemorySource(location string, entries map[string][]byte) *MemorySource {
	copied := make(map[string][]byte, len(entries))
	for name, data := range entries {
		copied[name] = append([]byte(nil), data...)
	}
	return &MemorySource{location: location, entries: copied}
}

func (s *MemorySource) Locations() []string {
	return []string{s.location}
}

// Entries returns entry names sorted lexically.
func (s *MemorySource) Entries(location string) ([]string, error) {
	if location != s.location {
		return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
	}
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemorySource) ReadEntry(location, name string) ([]byte, error) {
	if location != s.location {
		return nil, fmt.Errorf("unknown location %s: %w", location, fs.ErrNotExist)
	}
	data, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s!/%s: %w", location, name, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}
