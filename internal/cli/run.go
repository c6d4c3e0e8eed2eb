package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/detbox-dev/detbox/internal/classfile"
	"github.com/detbox-dev/detbox/internal/execution"
	"github.com/detbox-dev/detbox/internal/sandbox"
)

var (
	runClass  string
	runMethod string
	runDesc   string
	runArgs   []int
)

var runCmd = &cobra.Command{
	Use:   "run <archive>... --class <name>",
	Short: "Run a static method inside the sandbox",
	Long: `Run a static method of a class inside the sandbox. Integer arguments
are passed with --arg, in order.

The run fails if the method exceeds the execution profile, triggers a
rule violation, or throws.

Examples:
    detbox run lib.zip --class com/example/Main
    detbox run lib.zip --class com/example/Math --method add --desc '(II)I' --arg 2 --arg 3
    detbox run lib.zip --class com/example/Main --profile unlimited`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMain,
}

func init() {
	addSandboxFlags(runCmd)
	runCmd.Flags().StringVar(&runClass, "class", "", "class holding the method (e.g. com/example/Main)")
	runCmd.Flags().StringVar(&runMethod, "method", "run", "static method to call")
	runCmd.Flags().StringVar(&runDesc, "desc", "()I", "method descriptor")
	runCmd.Flags().IntSliceVar(&runArgs, "arg", nil, "integer argument (repeatable)")
	_ = runCmd.MarkFlagRequired("class")
	rootCmd.AddCommand(runCmd)
}

func runMain(cmd *cobra.Command, args []string) error {
	callArgs, err := intArgs(runDesc, runArgs)
	if err != nil {
		return err
	}

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

	className := strings.TrimSuffix(runClass, classfile.ClassSuffix)
	var costs execution.Costs
	err = sandbox.NewIsolatedTask("run", sb.Configuration).Run(cmd.Context(), func(tc *sandbox.Context) error {
		defer func() { costs = tc.Accounter().Costs() }()
		result, err := tc.Invoke(cmd.Context(), className, runMethod, runDesc, callArgs...)
		if err != nil {
			return err
		}
		if result != nil {
			fmt.Println(result)
		}
		return nil
	})

	if verbose {
		fmt.Fprintf(os.Stderr, "[detbox] profile %s: %d allocations, %d invocations, %d jumps, %d throws\n",
			sb.Profile().Name, costs.Allocations, costs.Invocations, costs.Jumps, costs.Throws)
	}

	var exceeded *execution.ResourceExceededError
	if errors.As(err, &exceeded) {
		return fmt.Errorf("%w (profile %s)", err, sb.Profile().Name)
	}
	return err
}

// intArgs checks that desc takes only ints and that values match it.
func intArgs(desc string, values []int) ([]any, error) {
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, err
	}
	if len(mt.Params) != len(values) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", desc, len(mt.Params), len(values))
	}
	args := make([]any, len(values))
	for i, p := range mt.Params {
		if p != "I" {
			return nil, fmt.Errorf("parameter %d of %s is %s; only int parameters are supported", i, desc, p)
		}
		args[i] = int32(values[i])
	}
	return args, nil
}
