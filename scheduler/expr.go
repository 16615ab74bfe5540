package scheduler

import "github.com/ducks/llmux/template"

// evalCondition evaluates a step's bare `if` expression.
func evalCondition(src string, tctx template.Context) (bool, error) {
	v, err := template.EvalExpr(src, tctx)
	if err != nil {
		return false, err
	}
	return template.Truthy(v), nil
}

// evalList evaluates a step's bare `for_each` expression into the items to
// iterate over.
func evalList(src string, tctx template.Context) ([]any, error) {
	v, err := template.EvalExpr(src, tctx)
	if err != nil {
		return nil, err
	}
	return template.ToList(v)
}
