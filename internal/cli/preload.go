package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/detbox-dev/detbox/internal/cache"
	"github.com/detbox-dev/detbox/internal/rewiring"
)

var preloadSave bool

var preloadCmd = &cobra.Command{
	Use:   "preload <archive>...",
	Short: "Generate sandboxed classes for tagged archives",
	Long: `Generate sandboxed classes for every archive tagged with
META-INF/detbox-preload, then for every class they reference, until no new
classes are reached. Any rule violation or missing class fails the preload.

Examples:
    detbox preload lib.zip
    detbox preload lib.zip --user app.zip --hide 'com/example/internal/**'
    detbox preload lib.zip --save`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreload,
}

func init() {
	addSandboxFlags(preloadCmd)
	preloadCmd.Flags().BoolVar(&preloadSave, "save", false, "save the generated classes to the cache")
	rootCmd.AddCommand(preloadCmd)
}

func runPreload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sb, err := openSandbox(cfg, log, args)
	if err != nil {
		return err
	}
	defer func() { _ = sb.Close() }()

	var bar *progressbar.ProgressBar
	progress := func(string) {}
	if !quiet && !verbose {
		bar = progressbar.Default(-1, "Preloading classes")
		progress = func(string) { _ = bar.Add(1) }
	}

	result, err := sb.Preload(cmd.Context(), progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("preload failed: %w", err)
	}

	if !quiet {
		fmt.Printf("Preloaded %d classes (%d known, rule set %s)\n", len(result.Classes), len(result.Known), sb.RuleSet())
	}

	if preloadSave {
		sources := append(append([]string(nil), args...), sbFlags.user...)
		path, err := saveArtifact(sb.RuleSet(), sb.Analysis().Scope(), sources, result.Classes)
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Saved %s\n", path)
		}
	}
	return nil
}

// saveArtifact writes classes to the artifact cache, keyed by rule set,
// class boundary scope and source contents.
func saveArtifact(ruleSet, scope string, sources []string, classes []*rewiring.ByteCode) (string, error) {
	hash, err := cache.SourcesHash(scope, sources)
	if err != nil {
		return "", err
	}
	path, err := cache.ArtifactPath(ruleSet, hash)
	if err != nil {
		return "", err
	}
	if err := cache.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := rewiring.WriteArchive(tmp, classes); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	return path, nil
}
