package workflow

import (
	"fmt"

	"github.com/ducks/llmux/template"
)

// Validate performs the static checks spec §3 and §8 require before any
// step executes: unique names, acyclic dependencies, known step types with
// their required fields, and — wherever statically resolvable — that every
// `steps.X` template reference names a declared dependency.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return newValidateError("workflow name is required", nil)
	}
	if len(w.Steps) == 0 {
		return newValidateError("workflow must declare at least one step", nil)
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.Name == "" {
			return newValidateError("step name cannot be empty", nil)
		}
		if seen[s.Name] {
			return newValidateError(fmt.Sprintf("duplicate step name %q", s.Name), nil)
		}
		seen[s.Name] = true
	}

	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return newValidateError(fmt.Sprintf("step %q depends_on undefined step %q", s.Name, dep), nil)
			}
			if dep == s.Name {
				return newValidateError(fmt.Sprintf("step %q cannot depend on itself", s.Name), nil)
			}
		}
		if err := validateStepBody(&s); err != nil {
			return err
		}
	}

	if cyclePath, ok := findCycle(w.Steps); ok {
		return newValidateError(fmt.Sprintf("dependency cycle detected: %s", cyclePath), nil)
	}

	for _, s := range w.Steps {
		if err := validateStepTemplates(&s); err != nil {
			return err
		}
	}

	return nil
}

func validateStepBody(s *Step) error {
	switch s.Type {
	case StepShell:
		if s.Run == "" {
			return newValidateError(fmt.Sprintf("step %q: shell steps require run", s.Name), nil)
		}
	case StepQuery:
		if s.Role == "" {
			return newValidateError(fmt.Sprintf("step %q: query steps require role", s.Name), nil)
		}
		if s.Prompt == "" {
			return newValidateError(fmt.Sprintf("step %q: query steps require prompt", s.Name), nil)
		}
	case StepApply:
		if s.Source == "" && len(s.Edits) == 0 {
			return newValidateError(fmt.Sprintf("step %q: apply steps require source or inline edits", s.Name), nil)
		}
	case StepStore:
		if s.Prompt == "" {
			return newValidateError(fmt.Sprintf("step %q: store steps require prompt", s.Name), nil)
		}
	case StepInput:
		// Prompt is optional free text; no required fields.
	default:
		return newValidateError(fmt.Sprintf("step %q: unknown step type %q", s.Name, s.Type), nil)
	}
	return nil
}

// findCycle runs a three-color DFS over the depends_on graph and returns a
// human-readable cycle path if one exists.
func findCycle(steps []Step) (string, bool) {
	byName := make(map[string]*Step, len(steps))
	for i := range steps {
		byName[steps[i].Name] = &steps[i]
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var path []string

	var visit func(name string) (string, bool)
	visit = func(name string) (string, bool) {
		color[name] = gray
		path = append(path, name)
		for _, dep := range byName[name].DependsOn {
			switch color[dep] {
			case gray:
				return cyclePathString(append(path, dep)), true
			case white:
				if p, found := visit(dep); found {
					return p, true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return "", false
	}

	for _, s := range steps {
		if color[s.Name] == white {
			if p, found := visit(s.Name); found {
				return p, true
			}
		}
	}
	return "", false
}

func cyclePathString(path []string) string {
	out := ""
	for i, name := range path {
		if i > 0 {
			out += " -> "
		}
		out += name
	}
	return out
}

// validateStepTemplates parses every template-bearing field on s and
// confirms any steps.X reference it contains names a declared dependency,
// catching the class of TemplateError spec §4.5 says is "caught at
// validate time when statically resolvable".
func validateStepTemplates(s *Step) error {
	deps := make(map[string]bool, len(s.DependsOn))
	for _, d := range s.DependsOn {
		deps[d] = true
	}

	fields := map[string]string{
		"run":                 s.Run,
		"prompt":              s.Prompt,
		"if":                  s.If,
		"for_each":            s.ForEach,
		"verify_retry_prompt": s.VerifyRetryPrompt,
	}
	for field, src := range fields {
		if src == "" {
			continue
		}
		if field == "if" || field == "for_each" {
			// Bare expressions: wrap them so the parser sees one interpolation.
			src = "{{ " + src + " }}"
		}
		tpl, err := template.Parse(src)
		if err != nil {
			return newValidateError(fmt.Sprintf("step %q: %s: invalid template", s.Name, field), err)
		}
		for _, ref := range tpl.StepReferences() {
			if !deps[ref] {
				return newValidateError(
					fmt.Sprintf("step %q: %s references steps.%s, which is not in depends_on", s.Name, field, ref), nil)
			}
		}
	}
	return nil
}
