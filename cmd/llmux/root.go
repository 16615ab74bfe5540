package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducks/llmux"
)

// globalFlags holds the persistent flags spec §6 lists, passed as a pointer
// into each subcommand constructor that needs them rather than kept in
// package globals.
type globalFlags struct {
	team           string
	output         string
	debug          bool
	quiet          bool
	maxConcurrency int
	workers        int
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	box := &loggerBox{}

	root := &cobra.Command{
		Use:           "llmux",
		Short:         "Declarative multi-backend LLM workflow orchestrator",
		Version:       llmux.GetVersion().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.output != "" && flags.output != outputConsole && flags.output != outputJSON && flags.output != outputQuiet {
				return newExitError(2, fmt.Errorf("--output must be one of console|json|quiet, got %q", flags.output))
			}
			box.log = newLogger(flags)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.team, "team", "", "named team bundle to apply (role aliases, default args)")
	root.PersistentFlags().StringVar(&flags.output, "output", outputConsole, "output format: console|json|quiet")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug-level logging")
	root.PersistentFlags().BoolVar(&flags.quiet, "quiet", false, "log errors only (result output is still set by --output)")
	root.PersistentFlags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "global backend invocation cap (0 = unbounded)")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "scheduler worker pool size (0 = one per step)")

	root.AddCommand(newRunCommand(flags, box))
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newDoctorCommand(flags, box))
	root.AddCommand(newBackendsCommand())
	root.AddCommand(newTeamsCommand())
	root.AddCommand(newRolesCommand())
	root.AddCommand(newEcosystemsCommand())

	return root
}
