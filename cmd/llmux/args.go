package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ducks/llmux/config"
	"github.com/ducks/llmux/workflow"
)

// resolveArgs builds the `args` render-context root for a run (spec §6
// "args table", §4.5 "Context roots"). Precedence, lowest to highest:
// an ArgSpec's own `default`, the active team's `default_args`, then
// `key=value` pairs given after the workflow path on the command line.
// A declared arg with `required=true` and no value from any of those
// three sources is a validation error.
func resolveArgs(wf *workflow.Workflow, team *config.Team, cliArgs []string) (map[string]any, error) {
	values := make(map[string]string)
	for name, spec := range wf.Args {
		if spec.Default != "" {
			values[name] = spec.Default
		}
	}
	if team != nil {
		for name, v := range team.DefaultArgs {
			values[name] = v
		}
	}
	for _, raw := range cliArgs {
		name, v, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q must be in key=value form", raw)
		}
		values[name] = v
	}

	for name, spec := range wf.Args {
		if spec.Required {
			if v, ok := values[name]; !ok || v == "" {
				return nil, fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	out := make(map[string]any, len(values))
	for name, v := range values {
		out[name] = convertArg(wf.Args[name].Type, v)
	}
	return out, nil
}

// convertArg coerces a raw string argument to the type an ArgSpec
// declares, falling back to the raw string (including when kind is
// "string", unrecognized, or the conversion fails).
func convertArg(kind, v string) any {
	switch kind {
	case "bool":
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case "int":
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case "float":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}
