package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ducks/llmux/config"
)

// newBackendsCommand, newTeamsCommand, newRolesCommand, and
// newEcosystemsCommand are the four read-only inspection subcommands
// (spec §6): each loads the layered config and prints one declared
// collection. Kept together since all four share the same "load, sort
// keys, print a line per entry" shape.

func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForList()
			if err != nil {
				return err
			}
			names := sortedKeys(cfg.Backends)
			for _, name := range names {
				b := cfg.Backends[name]
				state := "enabled"
				if !b.IsEnabled() {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", name, b.Kind, b.Command, state)
			}
			return nil
		},
	}
}

func newTeamsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List configured teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForList()
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(cfg.Teams) {
				t := cfg.Teams[name]
				roles := make([]string, 0, len(t.Roles))
				for alias := range t.Roles {
					roles = append(roles, alias)
				}
				sort.Strings(roles)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\troles=%s\n", name, t.Description, strings.Join(roles, ","))
			}
			return nil
		},
	}
}

func newRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List configured roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForList()
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(cfg.Roles) {
				r := cfg.Roles[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tbackends=%s\n", name, r.Execution, strings.Join(r.Backends, ","))
			}
			return nil
		},
	}
}

func newEcosystemsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ecosystems",
		Short: "List configured ecosystems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForList()
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(cfg.Ecosystems) {
				e := cfg.Ecosystems[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", name, e.Description, e.MemoryPath)
			}
			return nil
		},
	}
}

func loadConfigForList() (*config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, newExitError(2, err)
	}
	return cfg, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
