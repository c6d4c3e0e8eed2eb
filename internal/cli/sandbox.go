package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detbox-dev/detbox/internal/analysis"
	"github.com/detbox-dev/detbox/internal/config"
	"github.com/detbox-dev/detbox/internal/sandbox"
)

// sandboxFlags are shared by every command that builds a sandbox.
type sandboxFlags struct {
	user      []string
	hide      []string
	profile   string
	noTracing bool
}

var sbFlags sandboxFlags

// addSandboxFlags registers the sandbox flags on cmd.
func addSandboxFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&sbFlags.user, "user", nil, "user archives loaded into a child sandbox (comma-separated)")
	cmd.Flags().StringSliceVar(&sbFlags.hide, "hide", nil, "class globs hidden from the child sandbox (comma-separated)")
	cmd.Flags().StringVar(&sbFlags.profile, "profile", "", "execution profile (overrides config)")
	cmd.Flags().BoolVar(&sbFlags.noTracing, "no-tracing", false, "disable resource tracing instrumentation")
}

// openedSandbox is a sandbox together with the archives backing it.
type openedSandbox struct {
	*sandbox.Configuration
	archives []*analysis.ArchiveSource
}

func (s *openedSandbox) Close() error {
	var errs []error
	for _, a := range s.archives {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}

// openSandbox builds a root sandbox over archives, and a child over the
// user archives when any are given.
func openSandbox(cfg *config.Config, log *zap.Logger, archives []string) (*openedSandbox, error) {
	profileName := cfg.Profile
	if sbFlags.profile != "" {
		profileName = sbFlags.profile
	}
	profile, err := cfg.ProfileNamed(profileName)
	if err != nil {
		return nil, err
	}

	src, err := analysis.OpenArchives(archives...)
	if err != nil {
		return nil, err
	}
	opened := &openedSandbox{archives: []*analysis.ArchiveSource{src}}

	a, err := analysis.New(cfg.AnalysisOptions(src))
	if err != nil {
		_ = opened.Close()
		return nil, err
	}
	root, err := sandbox.Of(sandbox.Options{
		Analysis:       a,
		Profile:        profile,
		DisableTracing: !cfg.Tracing || sbFlags.noTracing,
		Logger:         log,
	})
	if err != nil {
		_ = opened.Close()
		return nil, err
	}
	opened.Configuration = root

	if len(sbFlags.user) == 0 {
		if len(sbFlags.hide) > 0 {
			_ = opened.Close()
			return nil, fmt.Errorf("--hide needs --user")
		}
		return opened, nil
	}

	userSrc, err := analysis.OpenArchives(sbFlags.user...)
	if err != nil {
		_ = opened.Close()
		return nil, err
	}
	opened.archives = append(opened.archives, userSrc)
	child, err := root.CreateChild(userSrc, func(b *analysis.ChildBuilder) error {
		b.Hide(sbFlags.hide...)
		return nil
	})
	if err != nil {
		_ = opened.Close()
		return nil, err
	}
	log.Debug("created child sandbox", zap.String("user", strings.Join(sbFlags.user, ",")))
	opened.Configuration = child
	return opened, nil
}
