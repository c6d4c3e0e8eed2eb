package sandbox

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/rewiring"
)

// PreloadTag marks an archive whose classes are generated eagerly.
const PreloadTag = "META-INF/detbox-preload"

// initialReferences are present in every sandbox and never generated by
// preload.
var initialReferences = []string{
	classfile.ObjectName,
	classfile.StackTraceElementName,
	classfile.ThrowableName,
}

// PreloadResult describes a completed preload.
type PreloadResult struct {
	// Known is the closed set of class names reached, sorted. It includes
	// the classes every sandbox starts with.
	Known []string
	// Classes holds the generated classes, sorted by sandboxed name.
	Classes []*rewiring.ByteCode
}

// Preload generates every class in each tagged archive, then every class
// they reach, until the set of known classes stops growing. Any failure
// aborts the preload; classes generated before the failure stay cached.
// progress, if non-nil, is called with each tagged class as it loads.
func (c *Configuration) Preload(ctx context.Context, progress func(className string)) (*PreloadResult, error) {
	var result *PreloadResult
	err := NewIsolatedTask("preloader", c).Run(ctx, func(tc *Context) error {
		r, err := c.preload(ctx, tc, progress)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Configuration) preload(ctx context.Context, tc *Context, progress func(string)) (*PreloadResult, error) {
	loader := c.analysis.SupportingClassLoader()
	tagged, err := preloadLocations(loader)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(initialReferences))
	for _, name := range initialReferences {
		known[name] = struct{}{}
	}

	for _, location := range tagged {
		c.logger.Info("Preloading classes from", zap.String("location", location))
		entries, err := loader.Entries(location)
		if err != nil {
			return nil, fmt.Errorf("preload %s: %w", location, err)
		}
		for _, entry := range entries {
			name, ok := classfile.ClassNameOf(entry)
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			known[name] = struct{}{}
			bc, err := tc.ClassLoader.ToSandboxClass(name)
			if err != nil {
				return nil, fmt.Errorf("preload %s: %w", name, err)
			}
			c.logger.Debug("- loaded", zap.String("class", bc.Name))
			if progress != nil {
				progress(name)
			}
		}
	}

	if err := tc.ClassLoader.ResolveReferences(known); err != nil {
		return nil, fmt.Errorf("preload: %w", err)
	}

	result := &PreloadResult{Classes: tc.ClassLoader.Loaded()}
	for name := range known {
		result.Known = append(result.Known, name)
	}
	sort.Strings(result.Known)
	c.logger.Info("Preloaded classes into sandbox", zap.Int("classes", len(result.Classes)))
	return result, nil
}

// preloadLocations returns the locations holding the preload tag. Only the
// loader's own locations are searched, and the tag must sit at the archive
// root.
func preloadLocations(loader *analysis.SourceClassLoader) ([]string, error) {
	resources, err := loader.Resources(PreloadTag)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", PreloadTag, err)
	}
	var locations []string
	for _, res := range resources {
		loc, entry, ok := analysis.SplitResource(res)
		if !ok || entry != PreloadTag {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
