package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

type filterFunc func(in any, args []any) (any, error)

// filters is the fixed set spec §4.5 "Filters" requires, plus first/last/
// strftime carried over from the richer filter set a template engine this
// one is grounded on also registers. Each is a pure function of its input
// and argument list; none observe the render context.
var filters = map[string]filterFunc{
	"shell_escape": filterShellEscape,
	"json":         filterJSON,
	"join":         filterJoin,
	"lines":        filterLines,
	"trim":         filterTrim,
	"default":      filterDefault,
	"first":        filterFirst,
	"last":         filterLast,
	"strftime":     filterStrftime,
}

// filterShellEscape wraps a value in single quotes, escaping embedded single
// quotes the POSIX-portable way: close the quote, emit an escaped quote,
// reopen. This is the one filter every subprocess-bound command template
// must apply to untrusted interpolated text.
func filterShellEscape(in any, _ []any) (any, error) {
	s := toDisplay(in)
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'", nil
}

func filterJSON(in any, _ []any) (any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("json filter: %w", err)
	}
	return string(b), nil
}

func filterJoin(in any, args []any) (any, error) {
	sep := ", "
	if len(args) > 0 {
		sep = toDisplay(args[0])
	}
	items, err := toStringList(in)
	if err != nil {
		return nil, fmt.Errorf("join filter: %w", err)
	}
	return strings.Join(items, sep), nil
}

// filterLines splits on newlines and strips empty lines, per spec §4.5
// "lines (split on newlines, strip empties)". A bare toStringList round
// trip would rejoin every line including blanks, so this stays a
// dedicated path rather than reusing the join filter's list coercion.
func filterLines(in any, _ []any) (any, error) {
	items, err := toStringList(in)
	if err != nil {
		return nil, fmt.Errorf("lines filter: %w", err)
	}
	kept := make([]string, 0, len(items))
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n"), nil
}

func filterTrim(in any, _ []any) (any, error) {
	return strings.TrimSpace(toDisplay(in)), nil
}

func filterDefault(in any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("default filter requires exactly one argument")
	}
	if in == nil {
		return args[0], nil
	}
	if s, ok := in.(string); ok && s == "" {
		return args[0], nil
	}
	return in, nil
}

// filterFirst returns a sequence's first element, or nil for an empty one.
func filterFirst(in any, _ []any) (any, error) {
	items, err := toAnyList(in)
	if err != nil {
		return nil, fmt.Errorf("first filter: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// filterLast returns a sequence's last element, or nil for an empty one.
func filterLast(in any, _ []any) (any, error) {
	items, err := toAnyList(in)
	if err != nil {
		return nil, fmt.Errorf("last filter: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

// filterStrftime formats a timestamp with a strftime-style format string:
// the literal input "now" resolves to the current UTC time, anything else
// is parsed as RFC3339.
func filterStrftime(in any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("strftime filter requires exactly one format argument")
	}
	format := toDisplay(args[0])

	s, ok := in.(string)
	if !ok {
		return nil, fmt.Errorf(`strftime filter requires string input ("now" or an RFC3339 timestamp)`)
	}

	var t time.Time
	if s == "now" {
		t = time.Now().UTC()
	} else {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("strftime filter: %w", err)
		}
		t = parsed.UTC()
	}
	return strftime.Format(format, t), nil
}

func toAnyList(in any) ([]any, error) {
	switch t := in.(type) {
	case indexable:
		return t.List(), nil
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", in)
	}
}

func toStringList(in any) ([]string, error) {
	switch t := in.(type) {
	case indexable:
		list := t.List()
		out := make([]string, len(list))
		for i, v := range list {
			out[i] = toDisplay(v)
		}
		return out, nil
	case []any:
		out := make([]string, len(t))
		for i, v := range t {
			out[i] = toDisplay(v)
		}
		return out, nil
	case []string:
		return t, nil
	case string:
		return strings.Split(t, "\n"), nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", in)
	}
}
