// Command symbex is the verifier's entry point (SPEC_FULL.md §4.O): a Cobra
// root command with a single "verify" subcommand that reads a pre-parsed
// JSON AST fixture (spec.md §1 Non-goals put the surface parser and
// type-checker out of scope), runs it through internal/verifier, prints one
// line per method, and exits with the Report's exit code. Grounded on the
// teacher's runtime/cli.CLIHarness (a Cobra root command with persistent
// flags and a RunE that maps an internal result to a process exit code),
// adapted from its dry-run-shell-command-runner shape into a single
// verify-this-file command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aledsdavies/symbex/internal/config"
	"github.com/aledsdavies/symbex/internal/fixture"
	"github.com/aledsdavies/symbex/internal/obslog"
	"github.com/aledsdavies/symbex/internal/verifier"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var exitCode int

	root := &cobra.Command{
		Use:           "symbex",
		Short:         "symbolic execution verifier for permission-based IVL programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newVerifyCmd(&exitCode))

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "symbex:", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func newVerifyCmd(exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file.json>",
		Short: "verify every method in a JSON AST fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := obslog.Init(cfg.Verbose); err != nil {
				return fmt.Errorf("initialising logging: %w", err)
			}
			defer obslog.Sync()

			report, err := verifyFile(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			*exitCode = report.ExitCode()
			return nil
		},
	}
}

func verifyFile(ctx context.Context, path string, cfg *config.Config) (*verifier.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	decoded, err := fixture.Decode(raw)
	if err != nil {
		return nil, err
	}
	program, err := fixture.Build(decoded)
	if err != nil {
		return nil, err
	}
	return verifier.Verify(ctx, program, cfg)
}

func printReport(w io.Writer, report *verifier.Report) {
	for _, m := range report.Methods {
		line := fmt.Sprintf("%-24s %s", m.Name, m.Outcome)
		if m.Err != nil {
			line += ": " + m.Err.Error()
		} else if m.Result.Cause != nil {
			line += ": " + m.Result.Cause.Error()
		}
		fmt.Fprintln(w, line)
	}
}
