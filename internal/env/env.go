package env

import (
	"os"
	"sort"
	"strings"
)

// Variables the supervisor reads or forwards.
const (
	// ForceColor keeps ANSI colors in child output even though stdout is a pipe.
	ForceColor = "FORCE_COLOR"
	// Port is honored by most dev servers in addition to --port.
	Port = "PORT"
	// UserAgent is set by npm, pnpm, yarn and bun when they run a script.
	UserAgent = "npm_config_user_agent"
)

type Var map[string]string

// Env composes the environment handed to each spawned child.
type Env struct {
	Var Var // supervisor-level overrides (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// FromList uses kvs instead of the OS environment as the base.
func (e *Env) FromList(kvs []string) {
	e.env = parse(kvs)
}

// Get returns a value from the overrides, then the base.
func (e *Env) Get(k string) string {
	if v, ok := e.Var[k]; ok {
		return v
	}
	if e.env == nil {
		e.FromOS()
	}
	return e.env[k]
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list applying order:
// base (OS env unless FromList was used), then e.Var, then perSpawn "K=V"
// entries. Output is sorted by key so spawns are reproducible.
func (e *Env) Merge(perSpawn []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perSpawn))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parse(perSpawn) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
