package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/workflow"
)

// newValidateCommand builds `llmux validate <workflow>` (spec §6): static
// parse/validate only, no backend invocation, exit code 2 on any failure.
func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Parse and statically validate a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Parse(args[0])
			if err != nil {
				return newExitError(2, err)
			}

			cfg, err := config.Load(".")
			if err != nil {
				return newExitError(2, err)
			}
			if _, err := resolveTeam(cfg, flags.team); err != nil {
				return newExitError(2, err)
			}
			if err := validateRoleReferences(wf, cfg); err != nil {
				return newExitError(2, err)
			}
			if err := validateOutputSchemas(wf); err != nil {
				return newExitError(2, err)
			}

			if flags.output != outputQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d steps)\n", wf.Name, len(wf.Steps))
			}
			return nil
		},
	}
}

// validateOutputSchemas checks that every query step's output_schema table
// decodes into a well-formed schema, catching a malformed declaration at
// validate time rather than at the first run that reaches the step.
func validateOutputSchemas(wf *workflow.Workflow) error {
	for _, step := range wf.Steps {
		if step.Type != workflow.StepQuery || len(step.OutputSchema) == 0 {
			continue
		}
		if _, err := step.ParsedOutputSchema(); err != nil {
			return fmt.Errorf("step %q: invalid output_schema: %w", step.Name, err)
		}
	}
	return nil
}

// validateRoleReferences checks every query step's role against the
// loaded config, a cross-package check workflow.Validate cannot perform
// on its own since it has no config dependency.
func validateRoleReferences(wf *workflow.Workflow, cfg *config.Config) error {
	for _, step := range wf.Steps {
		if step.Type != workflow.StepQuery {
			continue
		}
		if _, ok := cfg.Roles[step.Role]; !ok {
			return fmt.Errorf("step %q references undefined role %q", step.Name, step.Role)
		}
	}
	return nil
}
