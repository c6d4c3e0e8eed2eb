package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/detbox-dev/detbox/internal/cache"
)

var cleanAll bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the detbox cache",
	Long:  `View and manage saved sandbox archives.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show cached items",
	RunE:  cacheList,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached items",
	Long: `Remove cached items. By default, removes saved archives only.

Flags:
    --all     Remove everything`,
	RunE: cacheClean,
}

var cacheDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Print cache directory path",
	RunE:  cacheDir,
}

func init() {
	cacheCleanCmd.Flags().BoolVar(&cleanAll, "all", false, "remove everything")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheDirCmd)

	rootCmd.AddCommand(cacheCmd)
}

func cacheList(cmd *cobra.Command, args []string) error {
	artifacts, err := cache.ListArtifacts()
	if err != nil {
		return err
	}

	if len(artifacts) == 0 {
		fmt.Println("Cache is empty")
		return nil
	}

	fmt.Println("Sandbox archives:")
	var total int64
	for _, a := range artifacts {
		fmt.Printf("  %s (%s, saved %s ago)\n", shortName(a.Name), formatSize(a.Size), formatDuration(time.Since(a.Modified)))
		total += a.Size
	}
	fmt.Printf("\nTotal: %s\n", formatSize(total))
	return nil
}

func cacheClean(cmd *cobra.Command, args []string) error {
	if cleanAll {
		if err := cache.Clean("all"); err != nil {
			return err
		}
		fmt.Println("Removed all cache")
		return nil
	}

	if err := cache.Clean("artifacts"); err != nil {
		return err
	}
	fmt.Println("Removed sandbox archives")
	return nil
}

func cacheDir(cmd *cobra.Command, args []string) error {
	dir, err := cache.Dir()
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

// shortName abbreviates "<rule set>-<sources hash>" artifact names.
func shortName(name string) string {
	ruleSet, sources, ok := strings.Cut(name, "-")
	if !ok || len(ruleSet) < 12 || len(sources) < 12 {
		return name
	}
	return ruleSet[:12] + "-" + sources[:12]
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d days", int(d.Hours()/24))
}
