package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detbox-dev/detbox/internal/config"
	"github.com/detbox-dev/detbox/internal/logger"
)

var (
	verbose    bool
	quiet      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "detbox",
	Short: "Rewrite class archives into a deterministic sandbox",
	Long: `detbox rewrites class archives into a deterministic sandbox: classes are
checked against safety rules, rewritten so that host-dependent behaviour is
removed, and instrumented so that resource use is bounded.

Examples:
  detbox preload lib.zip                         Generate every class in tagged archives
  detbox preload lib.zip --save                  Also save the sandbox as an archive
  detbox inspect lib.zip --class com/example/A   Show the sandboxed form of a class
  detbox run lib.zip --class com/example/Main    Run a static method in the sandbox`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show detailed output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress detbox output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to detbox.toml (default: ./detbox.toml if present)")
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads the config file and builds the logger it describes. The
// verbose and quiet flags override the configured level.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	log, err := logger.New(logger.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}
