// Package template implements the prompt/command interpolation substrate:
// {{ expr }} interpolation, {% if %}/{% for %} block tags, dotted/indexed
// lookup into a frozen per-step render context, and a fixed filter set
// (spec §4.5). There is no matching third-party template/expression library
// anywhere in the dependency pack this module was built from, so this
// substrate is hand-rolled on the standard library alone.
package template

import (
	"fmt"
	"strings"
)

// Template is a parsed, reusable template. Parse once per workflow file,
// Render once per step invocation.
type Template struct {
	src   string
	nodes []templateNode
}

// Source returns the original template text, for error reporting.
func (t *Template) Source() string { return t.src }

// Render evaluates the template against ctx and returns the resulting text.
// Accessing an undefined step or name is a render-time Error (a
// TemplateError, permanent and non-retryable in stepresult terms).
func (t *Template) Render(ctx Context) (string, error) {
	var b strings.Builder
	if err := renderNodes(t.nodes, ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderNodes(nodes []templateNode, ctx Context, b *strings.Builder) error {
	for _, n := range nodes {
		if err := renderNode(n, ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func renderNode(n templateNode, ctx Context, b *strings.Builder) error {
	switch node := n.(type) {
	case TextNode:
		b.WriteString(node.Text)
		return nil
	case InterpNode:
		v, err := eval(node.Expr, ctx)
		if err != nil {
			return newRenderError(node.Src, "evaluating interpolation", err)
		}
		b.WriteString(toDisplay(v))
		return nil
	case IfNode:
		v, err := eval(node.Cond, ctx)
		if err != nil {
			return newRenderError(node.Src, "evaluating if condition", err)
		}
		if truthy(v) {
			return renderNodes(node.Then, ctx, b)
		}
		return renderNodes(node.Else, ctx, b)
	case ForNode:
		v, err := eval(node.Source, ctx)
		if err != nil {
			return newRenderError(node.Src, "evaluating for source", err)
		}
		items, err := forLoopToAnyList(v)
		if err != nil {
			return newRenderError(node.Src, "for loop source is not iterable", err)
		}
		for _, item := range items {
			if err := renderNodes(node.Body, ctx.withItem(item), b); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unhandled template node %T", n)
	}
}

func forLoopToAnyList(v any) ([]any, error) {
	switch t := v.(type) {
	case indexable:
		return t.List(), nil
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("not a list: %T", v)
	}
}

// StepReferences returns the distinct step names this template references
// via steps.<name>[...], so the workflow loader can catch references to
// undefined steps during static validation rather than at render time.
func (t *Template) StepReferences() []string {
	seen := map[string]struct{}{}
	for _, n := range t.nodes {
		collectStepRefsNode(n, seen)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func collectStepRefsNode(n templateNode, seen map[string]struct{}) {
	switch node := n.(type) {
	case InterpNode:
		collectStepRefsExpr(node.Expr, seen)
	case IfNode:
		collectStepRefsExpr(node.Cond, seen)
		for _, c := range node.Then {
			collectStepRefsNode(c, seen)
		}
		for _, c := range node.Else {
			collectStepRefsNode(c, seen)
		}
	case ForNode:
		collectStepRefsExpr(node.Source, seen)
		for _, c := range node.Body {
			collectStepRefsNode(c, seen)
		}
	}
}

func collectStepRefsExpr(n Node, seen map[string]struct{}) {
	switch e := n.(type) {
	case Path:
		if e.Root == "steps" && len(e.Accessors) > 0 && e.Accessors[0].Field != "" {
			seen[e.Accessors[0].Field] = struct{}{}
		}
		for _, acc := range e.Accessors {
			if acc.Index != nil {
				collectStepRefsExpr(acc.Index, seen)
			}
		}
	case UnaryExpr:
		collectStepRefsExpr(e.Operand, seen)
	case BinaryExpr:
		collectStepRefsExpr(e.Left, seen)
		collectStepRefsExpr(e.Right, seen)
	case FilterExpr:
		collectStepRefsExpr(e.Input, seen)
		for _, a := range e.Args {
			collectStepRefsExpr(a, seen)
		}
	}
}
