package analysis

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/detbox-dev/detbox/internal/classfile"
)

func classBytes(t *testing.T, name string) []byte {
	t.Helper()
	data, err := classfile.Marshal(&classfile.Definition{
		Name:    name,
		Super:   classfile.ObjectName,
		Version: "52.0",
	})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	return data
}

func memSource(t *testing.T, location string, classes ...string) *MemorySource {
	t.Helper()
	entries := make(map[string][]byte)
	for _, name := range classes {
		entries[classfile.EntryName(name)] = classBytes(t, name)
	}
	return NewMemorySource(location, entries)
}

func writeArchive(t *testing.T, dir, name string, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for entry, data := range entries {
		w, err := zw.Create(entry)
		if err != nil {
			t.Fatalf("zip Create() error: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip Write() error: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults_prefix", opts: Options{}},
		{name: "rejects_prefix_without_slash", opts: Options{Prefix: "sandbox"}, wantErr: true},
		{name: "rejects_runtime_prefix", opts: Options{Prefix: "detbox/"}, wantErr: true},
		{name: "rejects_bad_pattern", opts: Options{Visible: []string{"com/[a"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := New(tt.opts)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Prefix() != DefaultPrefix {
				t.Errorf("Prefix() = %q, want %q", cfg.Prefix(), DefaultPrefix)
			}
		})
	}
}

func TestIsVisible(t *testing.T) {
	cfg, err := New(Options{
		Visible: []string{"com/example/**", "java/lang/*"},
		Hidden:  []string{"com/example/internal/**"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		class string
		want  bool
	}{
		{class: "com/example/A", want: true},
		{class: "com/example/deep/B", want: true},
		{class: "java/lang/Object", want: true},
		{class: "java/lang/reflect/Method", want: false},
		{class: "com/example/internal/Secret", want: false},
		{class: "org/other/C", want: false},
		{class: "sandbox/com/example/A", want: false},
		{class: "detbox/runtime/RuntimeCostAccounter", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			if got := cfg.IsVisible(tt.class); got != tt.want {
				t.Errorf("IsVisible(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestCreateChild(t *testing.T) {
	parent, err := New(Options{Sources: []Source{memSource(t, "base", "com/example/A", "com/example/B")}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	child, err := parent.CreateChild(memSource(t, "user", "com/user/Task")).
		Hide("com/example/B").
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	t.Run("child_sees_user_classes", func(t *testing.T) {
		if _, err := child.LoadDefinition("com/user/Task"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("child_sees_parent_classes", func(t *testing.T) {
		if _, err := child.LoadDefinition("com/example/A"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("child_hides_narrowed_classes", func(t *testing.T) {
		_, err := child.LoadDefinition("com/example/B")

		var notFound *ClassNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want *ClassNotFoundError", err)
		}
	})

	t.Run("parent_is_unchanged", func(t *testing.T) {
		if _, err := parent.LoadDefinition("com/user/Task"); err == nil {
			t.Error("parent can load child class")
		}
		if !parent.IsVisible("com/example/B") {
			t.Error("parent lost visibility of hidden class")
		}
		if got := parent.SupportingClassLoader().Locations(); !reflect.DeepEqual(got, []string{"base"}) {
			t.Errorf("parent locations = %v", got)
		}
	})

	t.Run("child_inherits_settings", func(t *testing.T) {
		if child.Parent() != parent || child.Depth() != 1 {
			t.Error("child not linked to parent")
		}
		if child.Prefix() != parent.Prefix() {
			t.Errorf("Prefix() = %q, want %q", child.Prefix(), parent.Prefix())
		}
		if got := child.SupportingClassLoader().Locations(); !reflect.DeepEqual(got, []string{"base", "user"}) {
			t.Errorf("child locations = %v", got)
		}
	})
}

func TestCreateChild_user_classes_with_visible_list(t *testing.T) {
	parent, err := New(Options{
		Visible: []string{"com/example/**"},
		Sources: []Source{memSource(t, "base", "com/example/A", "org/other/O")},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	user := memSource(t, "user", "com/user/U", "com/user/secret/S", "org/other/O")

	child, err := parent.CreateChild(user).Hide("com/user/secret/**").Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tests := []struct {
		class string
		want  bool
	}{
		{class: "com/user/U", want: true},
		{class: "com/example/A", want: true},
		{class: "com/user/secret/S", want: false},
		{class: "org/other/O", want: false},
		{class: "com/user/Missing", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			if got := child.IsVisible(tt.class); got != tt.want {
				t.Errorf("IsVisible(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}

	t.Run("loads_user_class", func(t *testing.T) {
		if _, err := child.LoadDefinition("com/user/U"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("parent_is_unchanged", func(t *testing.T) {
		if parent.IsVisible("com/user/U") {
			t.Error("parent sees child class")
		}
	})

	t.Run("grandchild_inherits", func(t *testing.T) {
		grandchild, err := child.CreateChild(nil).Build()
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		if !grandchild.IsVisible("com/user/U") {
			t.Error("grandchild lost visibility of user class")
		}
	})
}

func TestLoadDefinition(t *testing.T) {
	t.Run("returns_not_found_for_missing_class", func(t *testing.T) {
		cfg, _ := New(Options{Sources: []Source{memSource(t, "base")}})

		_, err := cfg.LoadDefinition("com/example/Missing")

		var notFound *ClassNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want *ClassNotFoundError", err)
		}
		if notFound.Name != "com/example/Missing" {
			t.Errorf("Name = %q", notFound.Name)
		}
	})

	t.Run("rejects_entry_declaring_other_class", func(t *testing.T) {
		src := NewMemorySource("base", map[string][]byte{
			"com/example/A.class": classBytes(t, "com/example/B"),
		})
		cfg, _ := New(Options{Sources: []Source{src}})

		if _, err := cfg.LoadDefinition("com/example/A"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestArchiveSource(t *testing.T) {
	dir := t.TempDir()
	path := writeArchive(t, dir, "lib.zip", map[string][]byte{
		"com/example/A.class":     classBytes(t, "com/example/A"),
		"META-INF/detbox-preload": {},
	})

	src, err := OpenArchives(path)
	if err != nil {
		t.Fatalf("OpenArchives() error: %v", err)
	}
	defer src.Close()

	loader := NewSourceClassLoader(nil, src)

	t.Run("loads_class_from_archive", func(t *testing.T) {
		data, loc, err := loader.LoadClass("com/example/A")

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loc != path {
			t.Errorf("location = %q, want %q", loc, path)
		}
		def, err := classfile.Unmarshal(data)
		if err != nil || def.Name != "com/example/A" {
			t.Errorf("decoded %v, %v", def, err)
		}
	})

	t.Run("reports_resources_with_location", func(t *testing.T) {
		got, err := loader.Resources("META-INF/detbox-preload")

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{path + "!/META-INF/detbox-preload"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("fails_for_missing_archive", func(t *testing.T) {
		if _, err := OpenArchives(filepath.Join(dir, "missing.zip")); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestSplitResource(t *testing.T) {
	loc, entry, ok := SplitResource("/tmp/a.zip!/META-INF/detbox-preload")

	if !ok || loc != "/tmp/a.zip" || entry != "META-INF/detbox-preload" {
		t.Errorf("got %q, %q, %v", loc, entry, ok)
	}
}

func TestScope(t *testing.T) {
	build := func(t *testing.T, visible, hide []string) *Configuration {
		t.Helper()
		root, err := New(Options{Visible: visible, Sources: []Source{memSource(t, "base", "com/example/A")}})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		child, err := root.CreateChild(memSource(t, "user", "com/user/U")).Hide(hide...).Build()
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		return child
	}

	tests := []struct {
		name     string
		a, b     *Configuration
		wantSame bool
	}{
		{
			name:     "same_settings",
			a:        build(t, []string{"com/**"}, []string{"com/x/**"}),
			b:        build(t, []string{"com/**"}, []string{"com/x/**"}),
			wantSame: true,
		},
		{
			name:     "pattern_order_ignored",
			a:        build(t, []string{"com/**", "org/**"}, nil),
			b:        build(t, []string{"org/**", "com/**"}, nil),
			wantSame: true,
		},
		{
			name: "different_visible",
			a:    build(t, []string{"com/**"}, nil),
			b:    build(t, []string{"org/**"}, nil),
		},
		{
			name: "different_hidden",
			a:    build(t, nil, []string{"com/x/**"}),
			b:    build(t, nil, []string{"com/y/**"}),
		},
		{
			name: "child_differs_from_parent",
			a:    build(t, nil, nil),
			b:    build(t, nil, nil).Parent(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			same := tt.a.Scope() == tt.b.Scope()
			if same != tt.wantSame {
				t.Errorf("Scope() %q vs %q: same = %v, want %v", tt.a.Scope(), tt.b.Scope(), same, tt.wantSame)
			}
		})
	}
}
