package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/sandbox"
)

var (
	inspectClass    string
	inspectOriginal bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>... --class <name>",
	Short: "Show the sandboxed form of a class",
	Long: `Generate one class and print its sandboxed definition, including the
instructions added by the rewrite.

Examples:
    detbox inspect lib.zip --class com/example/Main
    detbox inspect lib.zip --class com/example/Main --original`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	addSandboxFlags(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectClass, "class", "", "class to inspect (e.g. com/example/Main)")
	inspectCmd.Flags().BoolVar(&inspectOriginal, "original", false, "show the class before rewriting")
	_ = inspectCmd.MarkFlagRequired("class")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	name := strings.TrimSuffix(inspectClass, classfile.ClassSuffix)
	if inspectOriginal {
		def, err := sb.Analysis().LoadDefinition(name)
		if err != nil {
			return err
		}
		printDefinition(os.Stdout, def, nil)
		return nil
	}

	return sandbox.NewIsolatedTask("inspect", sb.Configuration).Run(cmd.Context(), func(tc *sandbox.Context) error {
		bc, err := tc.ClassLoader.ToSandboxClass(name)
		if err != nil {
			return err
		}
		def, err := classfile.Unmarshal(bc.Bytes)
		if err != nil {
			return err
		}
		printDefinition(os.Stdout, def, bc.References)
		return nil
	})
}

// printDefinition writes a human-readable listing of def.
func printDefinition(w io.Writer, def *classfile.Definition, references []string) {
	fmt.Fprintf(w, "class %s", def.Name)
	if def.Super != "" {
		fmt.Fprintf(w, " extends %s", def.Super)
	}
	if len(def.Interfaces) > 0 {
		fmt.Fprintf(w, " implements %s", strings.Join(def.Interfaces, ", "))
	}
	fmt.Fprintln(w)
	if def.Version != "" {
		fmt.Fprintf(w, "  version: %s\n", def.Version)
	}
	if len(references) > 0 {
		fmt.Fprintf(w, "  references: %s\n", strings.Join(references, ", "))
	}

	for _, f := range def.Fields {
		fmt.Fprintf(w, "\n  field %s %s", f.Name, f.Descriptor)
		if f.ConstantValue != nil {
			fmt.Fprintf(w, " = %d", *f.ConstantValue)
		}
		fmt.Fprintln(w)
	}
	for _, m := range def.Methods {
		fmt.Fprintf(w, "\n  method %s%s\n", m.Name, m.Descriptor)
		if m.Code == nil {
			fmt.Fprintln(w, "    (no code)")
			continue
		}
		for i, in := range m.Code.Instructions {
			if in.Op == classfile.OpLabel {
				fmt.Fprintf(w, "   %s\n", in)
				continue
			}
			fmt.Fprintf(w, "    %3d  %s\n", i, in)
		}
	}
}
