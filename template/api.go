package template

// EvalExpr parses and evaluates a single bare expression — no {{ }} or
// {% %} delimiters — against ctx. Used by consumers that need a typed
// value rather than rendered text, such as the scheduler's step-level `if`
// and `for_each` fields (spec §3), which are expressions in their own
// right rather than interpolated template bodies.
func EvalExpr(src string, ctx Context) (any, error) {
	n, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	return eval(n, ctx)
}

// Truthy exposes the substrate's truthiness rules (spec §4.5) for
// conditions evaluated outside of a {% if %} tag.
func Truthy(v any) bool { return truthy(v) }

// ToList exposes the substrate's iterable-coercion rules (spec §4.5 "for
// loop source") for sources evaluated outside of a {% for %} tag.
func ToList(v any) ([]any, error) { return toAnyList(v) }
