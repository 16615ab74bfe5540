package template

import (
	"strings"
	"testing"

	"github.com/ducks/llmux/stepresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInterpolation(t *testing.T) {
	tpl, err := Parse("hello {{ args.name }}, team={{ team }}")
	require.NoError(t, err)

	out, err := tpl.Render(Context{
		Args: map[string]any{"name": "ops"},
		Team: "backend",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello ops, team=backend", out)
}

func TestRenderIfElse(t *testing.T) {
	tpl, err := Parse("{% if args.verbose %}verbose{% else %}quiet{% endif %}")
	require.NoError(t, err)

	out, err := tpl.Render(Context{Args: map[string]any{"verbose": true}})
	require.NoError(t, err)
	assert.Equal(t, "verbose", out)

	out, err = tpl.Render(Context{Args: map[string]any{"verbose": false}})
	require.NoError(t, err)
	assert.Equal(t, "quiet", out)
}

func TestRenderFor(t *testing.T) {
	tpl, err := Parse("{% for f in args.files %}[{{ item }}]{% endfor %}")
	require.NoError(t, err)

	out, err := tpl.Render(Context{Args: map[string]any{"files": []any{"a.go", "b.go"}}})
	require.NoError(t, err)
	assert.Equal(t, "[a.go][b.go]", out)
}

func TestRenderForEmptySourceProducesEmptyOutput(t *testing.T) {
	tpl, err := Parse("{% for f in args.files %}[{{ item }}]{% endfor %}")
	require.NoError(t, err)

	out, err := tpl.Render(Context{Args: map[string]any{"files": []any{}}})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestShellEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"with space",
		"it's got a quote",
		"$(rm -rf /)",
		"",
		"multi\nline",
	}
	for _, c := range cases {
		tpl, err := Parse("{{ args.v | shell_escape }}")
		require.NoError(t, err)
		out, err := tpl.Render(Context{Args: map[string]any{"v": c}})
		require.NoError(t, err)

		// A round trip through a POSIX shell's single-quote parsing must
		// reproduce the original string exactly.
		unescaped := unquoteShellSingleQuoted(t, out)
		assert.Equal(t, c, unescaped)
	}
}

// unquoteShellSingleQuoted reverses the shell_escape filter's quoting
// scheme directly, since the test environment does not invoke a real
// shell: a leading quote opens a literal run, a bare quote closes it, and
// an embedded quote is encoded as close-quote, backslash-quote, open-quote.
func unquoteShellSingleQuoted(t *testing.T, s string) string {
	t.Helper()
	require.True(t, len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'', "expected quoted string, got %q", s)
	var b strings.Builder
	i := 1
	inQuotes := true
	for i < len(s)-1 || (i == len(s)-1 && inQuotes) {
		if inQuotes {
			if s[i] == '\'' {
				inQuotes = false
				i++
				continue
			}
			b.WriteByte(s[i])
			i++
			continue
		}
		require.True(t, i+1 < len(s) && s[i] == '\\' && s[i+1] == '\'', "expected escaped quote at %d in %q", i, s)
		b.WriteByte('\'')
		i += 2
		require.Less(t, i, len(s), "expected reopening quote in %q", s)
		require.Equal(t, byte('\''), s[i], "expected reopening quote at %d in %q", i, s)
		inQuotes = true
		i++
	}
	return b.String()
}

func TestStepResultAccess(t *testing.T) {
	steps := map[string]*stepresult.StepResult{
		"review": {
			StepName: "review",
			Output:   "looks good",
			Backend:  "claude",
			Outputs: stepresult.Outputs{
				{Backend: "claude", Output: "lgtm"},
				{Backend: "gpt4", Output: "ship it", Failed: false},
			},
		},
	}

	tpl, err := Parse("{{ steps.review.output }} via {{ steps.review.backend }}")
	require.NoError(t, err)
	out, err := tpl.Render(Context{Steps: steps})
	require.NoError(t, err)
	assert.Equal(t, "looks good via claude", out)

	tpl2, err := Parse(`{{ steps.review.outputs["gpt4"].output }}`)
	require.NoError(t, err)
	out2, err := tpl2.Render(Context{Steps: steps})
	require.NoError(t, err)
	assert.Equal(t, "ship it", out2)

	tpl3, err := Parse("{{ steps.review.outputs | join(' | ') }}")
	require.NoError(t, err)
	_, err = tpl3.Render(Context{Steps: steps})
	require.NoError(t, err)
}

func TestUndefinedStepIsRenderError(t *testing.T) {
	tpl, err := Parse("{{ steps.missing.output }}")
	require.NoError(t, err)

	_, err = tpl.Render(Context{Steps: map[string]*stepresult.StepResult{}})
	require.Error(t, err)
	var tplErr *Error
	require.ErrorAs(t, err, &tplErr)
	assert.Equal(t, "render", tplErr.Operation)
}

func TestStepReferencesStaticAnalysis(t *testing.T) {
	tpl, err := Parse("{% if steps.build.failed %}{{ steps.test.output }}{% else %}{{ steps.deploy.output }}{% endif %}")
	require.NoError(t, err)

	refs := tpl.StepReferences()
	assert.ElementsMatch(t, []string{"build", "test", "deploy"}, refs)
}

func TestFilters(t *testing.T) {
	tpl, err := Parse(`{{ args.name | default("anon") }}`)
	require.NoError(t, err)
	out, err := tpl.Render(Context{Args: map[string]any{"name": ""}})
	require.NoError(t, err)
	assert.Equal(t, "anon", out)

	tpl2, err := Parse("{{ args.raw | trim }}")
	require.NoError(t, err)
	out2, err := tpl2.Render(Context{Args: map[string]any{"raw": "  padded  "}})
	require.NoError(t, err)
	assert.Equal(t, "padded", out2)

	tpl3, err := Parse("{{ args.obj | json }}")
	require.NoError(t, err)
	out3, err := tpl3.Render(Context{Args: map[string]any{"obj": map[string]any{"k": "v"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, out3)

	tpl4, err := Parse("{{ args.text | lines }}")
	require.NoError(t, err)
	out4, err := tpl4.Render(Context{Args: map[string]any{"text": "one\n\n  \ntwo\nthree\n"}})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", out4)
}

func TestFirstLastFilters(t *testing.T) {
	tpl, err := Parse("{{ args.items | first }}-{{ args.items | last }}")
	require.NoError(t, err)
	out, err := tpl.Render(Context{Args: map[string]any{"items": []any{"a", "b", "c"}}})
	require.NoError(t, err)
	assert.Equal(t, "a-c", out)
}

func TestStrftimeFilterFormatsRFC3339Input(t *testing.T) {
	tpl, err := Parse(`{{ args.ts | strftime("%Y-%m-%d") }}`)
	require.NoError(t, err)
	out, err := tpl.Render(Context{Args: map[string]any{"ts": "2026-02-14T12:34:56Z"}})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-14", out)
}

func TestEqualityAndComparison(t *testing.T) {
	tpl, err := Parse("{% if args.n > 2 && args.n <= 5 %}in-range{% else %}out{% endif %}")
	require.NoError(t, err)

	out, err := tpl.Render(Context{Args: map[string]any{"n": 3.0}})
	require.NoError(t, err)
	assert.Equal(t, "in-range", out)

	out, err = tpl.Render(Context{Args: map[string]any{"n": 9.0}})
	require.NoError(t, err)
	assert.Equal(t, "out", out)
}

func TestParseIsIdempotentAcrossRenders(t *testing.T) {
	tpl, err := Parse("{{ args.x }}-{{ args.y }}")
	require.NoError(t, err)

	out1, err := tpl.Render(Context{Args: map[string]any{"x": "a", "y": "b"}})
	require.NoError(t, err)
	out2, err := tpl.Render(Context{Args: map[string]any{"x": "c", "y": "d"}})
	require.NoError(t, err)

	assert.Equal(t, "a-b", out1)
	assert.Equal(t, "c-d", out2)
}

func TestUnterminatedTagIsParseError(t *testing.T) {
	_, err := Parse("{% if args.x %}missing endif")
	require.Error(t, err)
	var tplErr *Error
	require.ErrorAs(t, err, &tplErr)
	assert.Equal(t, "parse", tplErr.Operation)
}
