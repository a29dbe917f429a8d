// Package config reads the MCP server manifest: a JSON file naming the
// servers prompts are forwarded to.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	dirName  = "voice-agent-lab"
	fileName = "mcp.json"
)

// Manifest is the on-disk shape, compatible with the common mcpServers
// layout used by editors.
type Manifest struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig says how to reach one server. Transport wins over Command
// when both are set.
type ServerConfig struct {
	Transport *TransportConfig  `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	// Tool overrides the tool prompts are sent to on this server.
	Tool string `json:"tool,omitempty"`
}

type TransportConfig struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// EnabledValue reports whether the server should be used; unset means yes.
func (s ServerConfig) EnabledValue() bool {
	return s.Enabled == nil || *s.Enabled
}

// Result is the merged view of every manifest that was found.
type Result struct {
	Servers map[string]ServerConfig
	// Order is the sorted server names.
	Order   []string
	Sources []string
}

// Enabled returns the enabled server names in Order.
func (r Result) Enabled() []string {
	var out []string
	for _, name := range r.Order {
		if r.Servers[name].EnabledValue() {
			out = append(out, name)
		}
	}
	return out
}

// Load reads the manifest at override when it is set. Otherwise it merges
// ./.voice-agent-lab/mcp.json with $XDG_CONFIG_HOME/voice-agent-lab/mcp.json,
// the user file winning on name clashes. Missing files are not errors.
func Load(override string) (Result, error) {
	result := Result{Servers: make(map[string]ServerConfig)}

	if override != "" {
		path := expandPath(override)
		manifest, err := readManifest(path)
		if err != nil {
			return result, err
		}
		result.merge(path, manifest)
		return result, nil
	}

	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "."+dirName, fileName))
	}
	if p, err := userManifestPath(); err == nil {
		paths = append(paths, p)
	}
	for _, path := range paths {
		manifest, err := readManifest(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return result, err
		}
		result.merge(path, manifest)
	}
	return result, nil
}

func (r *Result) merge(source string, m Manifest) {
	for name, sc := range m.Servers {
		r.Servers[name] = normalize(sc)
	}
	r.Sources = append(r.Sources, source)
	r.Order = r.Order[:0]
	for name := range r.Servers {
		r.Order = append(r.Order, name)
	}
	sort.Strings(r.Order)
}

func normalize(sc ServerConfig) ServerConfig {
	sc.Command = expandPath(sc.Command)
	if sc.Args != nil {
		args := make([]string, len(sc.Args))
		for i, a := range sc.Args {
			args[i] = expandPath(a)
		}
		sc.Args = args
	}
	if len(sc.Env) > 0 {
		env := make(map[string]string, len(sc.Env))
		for k, v := range sc.Env {
			env[k] = expandPath(v)
		}
		sc.Env = env
	}
	if sc.Transport != nil {
		t := *sc.Transport
		t.URL = expandPath(t.URL)
		sc.Transport = &t
	}
	return sc
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func userManifestPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, dirName, fileName), nil
}

// expandPath resolves a leading ~ to the home directory; anything else is
// returned unchanged.
func expandPath(value string) string {
	if value != "~" && !strings.HasPrefix(value, "~/") {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value
	}
	return filepath.Join(home, strings.TrimPrefix(value, "~"))
}
