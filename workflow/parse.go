package workflow

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Parse decodes a workflow TOML file and runs static validation (spec §8
// "cycle detection at validate time") before returning it, mirroring a
// "validate, then execute" split between loading and initialization.
func Parse(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newParseError("reading workflow file", err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes and validates workflow TOML content directly; Parse
// and the tests use it.
func ParseBytes(data []byte) (*Workflow, error) {
	var w Workflow
	if _, err := toml.Decode(string(data), &w); err != nil {
		return nil, newParseError("decoding TOML", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}
