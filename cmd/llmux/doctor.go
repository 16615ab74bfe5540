package main

import (
	"fmt"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ducks/llmux/config"
)

// newDoctorCommand builds `llmux doctor` (spec §6): checks the layered
// config loads and that every enabled cli backend's command resolves on
// PATH, without invoking any backend.
func newDoctorCommand(flags *globalFlags, box *loggerBox) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return newExitError(2, err)
			}

			out := cmd.OutOrStdout()
			healthy := true
			names := make([]string, 0, len(cfg.Backends))
			for name := range cfg.Backends {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				b := cfg.Backends[name]
				status, ok := checkBackend(name, b)
				if !ok {
					healthy = false
				}
				if flags.output != outputQuiet {
					fmt.Fprintf(out, "%s %s (%s): %s\n", glyph(ok), name, b.Kind, status)
				}
			}

			if len(cfg.Roles) == 0 {
				box.log.Warn("no roles declared in config")
			}

			if !healthy {
				return newExitError(1, fmt.Errorf("one or more backends are unhealthy"))
			}
			return nil
		},
	}
}

func checkBackend(name string, b config.Backend) (string, bool) {
	if !b.IsEnabled() {
		return "disabled", true
	}
	switch b.Kind {
	case config.BackendCLI:
		if _, err := exec.LookPath(b.Command); err != nil {
			return fmt.Sprintf("command %q not found on PATH", b.Command), false
		}
		return "command resolves on PATH", true
	case config.BackendHTTP:
		if b.Command == "" || b.Model == "" {
			return "missing base URL or model", false
		}
		return fmt.Sprintf("configured for %s", b.Model), true
	default:
		return "unknown backend kind", false
	}
}

func glyph(ok bool) string {
	if ok {
		return "[ok]"
	}
	return "[!!]"
}
