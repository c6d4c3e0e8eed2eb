// Package cache manages detbox's on-disk state under ~/.detbox.
package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ArtifactSuffix is the extension of saved sandbox archives.
const ArtifactSuffix = ".zip"

// Dir returns the base cache directory (~/.detbox).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".detbox"), nil
}

// ArtifactsDir returns the path to the saved sandbox archives.
func ArtifactsDir() (string, error) {
	base, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "artifacts"), nil
}

// ArtifactPath returns where the archive generated by a rule set from a
// given set of sources is stored.
func ArtifactPath(ruleSet, sourcesHash string) (string, error) {
	dir, err := ArtifactsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ruleSet+"-"+sourcesHash+ArtifactSuffix), nil
}

// SourcesHash computes a cache key from a class boundary scope and the
// contents of source archives. Paths are sorted first, so the order given
// does not matter.
func SourcesHash(scope string, paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := blake3.New()
	_, _ = h.Write([]byte(scope))
	_, _ = h.Write([]byte{0})
	for _, p := range sorted {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
		// Separator so that moving bytes between files changes the hash.
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// Artifact describes one saved archive.
type Artifact struct {
	Name     string
	Path     string
	Size     int64
	Modified time.Time
}

// ListArtifacts returns saved archives sorted by name.
func ListArtifacts() ([]Artifact, error) {
	dir, err := ArtifactsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArtifactSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Name:     strings.TrimSuffix(e.Name(), ArtifactSuffix),
			Path:     filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return artifacts, nil
}

// Exists checks if a path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Clean removes cache items based on the specified target.
// Valid targets: "artifacts", "all"
func Clean(target string) error {
	base, err := Dir()
	if err != nil {
		return err
	}

	switch target {
	case "all":
		return os.RemoveAll(base)
	case "artifacts", "":
		return os.RemoveAll(filepath.Join(base, "artifacts"))
	default:
		return fmt.Errorf("unknown cache target %q", target)
	}
}
