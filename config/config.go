package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the complete, merged configuration (spec §6): named backends,
// roles built from them, teams that alias roles, and ecosystems that scope
// the memory store.
type Config struct {
	Backends   map[string]Backend   `toml:"backends,omitempty"`
	Roles      map[string]Role      `toml:"roles,omitempty"`
	Teams      map[string]Team      `toml:"teams,omitempty"`
	Ecosystems map[string]Ecosystem `toml:"ecosystems,omitempty"`
}

// Validate implements ConfigInterface.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		if err := b.Validate(name); err != nil {
			return newValidateError("backend validation failed", err)
		}
	}
	for name, r := range c.Roles {
		if err := r.Validate(name, c.Backends); err != nil {
			return newValidateError("role validation failed", err)
		}
	}
	for name, t := range c.Teams {
		if err := t.Validate(name, c.Roles); err != nil {
			return newValidateError("team validation failed", err)
		}
	}
	for name, e := range c.Ecosystems {
		if err := e.Validate(name); err != nil {
			return newValidateError("ecosystem validation failed", err)
		}
	}
	return nil
}

// SetDefaults implements ConfigInterface.
func (c *Config) SetDefaults() {
	if c.Backends == nil {
		c.Backends = make(map[string]Backend)
	}
	if c.Roles == nil {
		c.Roles = make(map[string]Role)
	}
	if c.Teams == nil {
		c.Teams = make(map[string]Team)
	}
	if c.Ecosystems == nil {
		c.Ecosystems = make(map[string]Ecosystem)
	}

	for name, b := range c.Backends {
		b.SetDefaults()
		c.Backends[name] = b
	}
	for name, r := range c.Roles {
		r.SetDefaults()
		c.Roles[name] = r
	}
	for name, t := range c.Teams {
		t.SetDefaults()
		c.Teams[name] = t
	}
	for name, e := range c.Ecosystems {
		e.SetDefaults(name)
		c.Ecosystems[name] = e
	}
}

// UserConfigPath returns the layered user-level config file location.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "llm-mux", "config.toml")
}

// ProjectConfigPath returns the layered project-level config file location,
// resolved relative to dir (normally the current working directory).
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ".llm-mux", "config.toml")
}

func defaultMemoryPath(ecosystem string) string {
	return filepath.Join(MemoryBaseDir(), ecosystem+".db")
}

// MemoryBaseDir returns the directory the per-ecosystem memory databases
// live under (spec §6 "Persistent state"), for collaborators (the CLI's
// memorystore wiring) that need the directory rather than one ecosystem's
// file path.
func MemoryBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "llm-mux", "memory")
}

// Load reads the layered configuration: the user file, then the project
// file, with the project file winning on conflicts (spec §6). Layers are
// merged per entry: a project [backends.X] replaces the user's
// [backends.X] as a whole; fields within one entry are not merged. Either
// file may be absent. Environment variables are expanded
// in every string field after decoding.
func Load(projectDir string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, newLoadError("loading .env files", err)
	}

	merged := &Config{}
	for _, path := range []string{UserConfigPath(), ProjectConfigPath(projectDir)} {
		if path == "" {
			continue
		}
		layer, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		merged = mergeConfig(merged, layer)
	}

	expandConfigEnv(merged)
	merged.SetDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadFile parses a single TOML config file, applying defaults and
// validation but no layering. Used by tests.
func LoadFile(path string) (*Config, error) {
	c, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &Config{}
	}
	expandConfigEnv(c)
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadFile decodes path into a Config, returning (nil, nil) if the file
// does not exist.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newLoadError(fmt.Sprintf("reading %s", path), err)
	}
	var c Config
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, newLoadError(fmt.Sprintf("parsing %s", path), err)
	}
	return &c, nil
}

// mergeConfig merges override on top of base, per table, with override's
// entries winning on key collision. A colliding entry is replaced whole;
// its fields are not merged.
func mergeConfig(base, override *Config) *Config {
	out := &Config{
		Backends:   mergeTable(base.Backends, override.Backends),
		Roles:      mergeTable(base.Roles, override.Roles),
		Teams:      mergeTable(base.Teams, override.Teams),
		Ecosystems: mergeTable(base.Ecosystems, override.Ecosystems),
	}
	return out
}

func mergeTable[T any](base, override map[string]T) map[string]T {
	out := make(map[string]T, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
