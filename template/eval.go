package template

import (
	"fmt"
	"reflect"
	"strconv"
)

func eval(n Node, ctx Context) (any, error) {
	switch e := n.(type) {
	case Literal:
		return e.Value, nil
	case Path:
		return evalPath(e, ctx)
	case UnaryExpr:
		return evalUnary(e, ctx)
	case BinaryExpr:
		return evalBinary(e, ctx)
	case FilterExpr:
		return evalFilter(e, ctx)
	default:
		return nil, fmt.Errorf("unhandled node type %T", n)
	}
}

func evalPath(p Path, ctx Context) (any, error) {
	var cur any
	switch p.Root {
	case "args":
		cur = ctx.Args
	case "env":
		cur = ctx.Env
	case "team":
		cur = ctx.Team
	case "ecosystem":
		cur = ctx.Ecosystem
	case "steps":
		m := make(map[string]any, len(ctx.Steps))
		for name, res := range ctx.Steps {
			m[name] = res.TemplateValue()
		}
		cur = m
	case "groups":
		cur = ctx.Groups
	case "item":
		cur = ctx.Item
	default:
		return nil, fmt.Errorf("undefined name %q", p.Root)
	}

	for _, acc := range p.Accessors {
		var err error
		if acc.Field != "" {
			cur, err = fieldOf(cur, acc.Field)
		} else {
			idxVal, ierr := eval(acc.Index, ctx)
			if ierr != nil {
				return nil, ierr
			}
			cur, err = indexOf(cur, idxVal)
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func fieldOf(v any, name string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		val, ok := t[name]
		if !ok {
			return nil, fmt.Errorf("no field %q", name)
		}
		return val, nil
	case map[string]string:
		val, ok := t[name]
		if !ok {
			return nil, fmt.Errorf("no field %q", name)
		}
		return val, nil
	case lookupable:
		val, ok := t.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no field %q", name)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("cannot access field %q on %T", name, v)
	}
}

func indexOf(v any, idx any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string, got %T", idx)
		}
		val, found := t[key]
		if !found {
			return nil, fmt.Errorf("no key %q", key)
		}
		return val, nil
	case lookupable:
		if key, ok := idx.(string); ok {
			val, found := t.Lookup(key)
			if !found {
				return nil, fmt.Errorf("no key %q", key)
			}
			return val, nil
		}
	}

	i, err := toInt(idx)
	if err != nil {
		return nil, fmt.Errorf("index must be an integer: %w", err)
	}

	switch t := v.(type) {
	case indexable:
		list := t.List()
		if i < 0 || i >= len(list) {
			return nil, fmt.Errorf("index %d out of range (len %d)", i, len(list))
		}
		return list[i], nil
	case []any:
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("index %d out of range (len %d)", i, len(t))
		}
		return t[i], nil
	case []string:
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("index %d out of range (len %d)", i, len(t))
		}
		return t[i], nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			if i < 0 || i >= rv.Len() {
				return nil, fmt.Errorf("index %d out of range (len %d)", i, rv.Len())
			}
			return rv.Index(i).Interface(), nil
		}
		return nil, fmt.Errorf("cannot index %T", v)
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func evalUnary(e UnaryExpr, ctx Context) (any, error) {
	v, err := eval(e.Operand, ctx)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func evalBinary(e BinaryExpr, ctx Context) (any, error) {
	if e.Op == "&&" {
		l, err := eval(e.Left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := eval(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}
	if e.Op == "||" {
		l, err := eval(e.Left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := eval(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := eval(e.Left, ctx)
	if err != nil {
		return nil, err
	}
	r, err := eval(e.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "<", "<=", ">", ">=":
		lf, lerr := toFloat(l)
		rf, rerr := toFloat(r)
		if lerr != nil || rerr != nil {
			return nil, fmt.Errorf("comparison operator %s requires numeric operands", e.Op)
		}
		switch e.Op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", e.Op)
	}
}

func evalFilter(e FilterExpr, ctx Context) (any, error) {
	in, err := eval(e.Input, ctx)
	if err != nil {
		return nil, err
	}
	fn, ok := filters[e.Name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", e.Name)
	}
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := eval(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(in, args)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func looseEqual(a, b any) bool {
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

// toDisplay renders an evaluated value the way {{ expr }} interpolation and
// the join/lines filters need: strings pass through untouched, everything
// else gets its natural textual form.
func toDisplay(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
