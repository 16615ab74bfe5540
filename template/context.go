package template

import "github.com/ducks/llmux/stepresult"

// Context is the frozen per-step render context a template evaluates
// against (spec §4.5 "Render context"). Nothing in it is mutated once a
// step starts rendering: the scheduler builds a Context before each step
// runs and discards it afterward.
type Context struct {
	Args      map[string]any
	Env       map[string]string
	Team      string
	Ecosystem string
	Steps     map[string]*stepresult.StepResult
	Groups    map[string]any
	Item      any // current iteration value: inside {% for %}, and per item of a for_each step
}

func (c Context) withItem(item any) Context {
	c.Item = item
	return c
}

// lookupable is implemented by values that support outputs.<backend>-style
// named lookup alongside ordinary list indexing.
type lookupable interface {
	Lookup(name string) (any, bool)
}

// indexable is implemented by values that support outputs[0]-style
// positional indexing and length queries.
type indexable interface {
	List() []any
	Len() int
}
