package pm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrNoManifest means dir has no package.json; restarting cannot fix it.
	ErrNoManifest = errors.New("package.json not found")
	// ErrNoScript means the requested script is not declared in package.json.
	ErrNoScript = errors.New("script not found in package.json")
)

// Manifest is the subset of package.json the supervisor needs.
type Manifest struct {
	Name    string            `json:"name"`
	Scripts map[string]string `json:"scripts"`
}

// LoadManifest reads dir/package.json.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "package.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// Script returns the command behind name, or ErrNoScript listing what exists.
func (m *Manifest) Script(name string) (string, error) {
	if cmd, ok := m.Scripts[name]; ok {
		return cmd, nil
	}
	names := make([]string, 0, len(m.Scripts))
	for k := range m.Scripts {
		names = append(names, k)
	}
	sort.Strings(names)
	return "", fmt.Errorf("%w: %q (available: %v)", ErrNoScript, name, names)
}
