package classifier

import (
	"regexp"
	"strings"

	"github.com/loykin/revivr/internal/port"
)

// Category is the kind of signal a line of child output carries.
type Category string

const (
	None            Category = ""
	CacheCorruption Category = "cache-corruption"
	PortConflict    Category = "port-conflict"
	MissingModule   Category = "missing-module"
	Ready           Category = "ready"
)

func (c Category) String() string {
	if c == None {
		return "none"
	}
	return string(c)
}

// Recoverable reports whether the category warrants an automatic restart.
func (c Category) Recoverable() bool {
	return c == CacheCorruption || c == PortConflict
}

// Signature is one entry of the ordered signature table.
type Signature struct {
	Pattern  *regexp.Regexp
	Category Category
	Label    string
}

// Match is the result of classifying one line. Port is set for PortConflict,
// Module for MissingModule when the name could be extracted.
type Match struct {
	Category Category
	Label    string
	Port     int
	Module   string
}

// Signatures is evaluated in order; the first matching entry provides the label.
// Port conflicts are not in this table: they are checked before it.
var Signatures = []Signature{
	// build manifest temp files written and renamed by the dev server
	{regexp.MustCompile(`_buildManifest\.js\.tmp`), CacheCorruption, "build manifest temp file"},
	{regexp.MustCompile(`(?:app-)?build-manifest\.json.*(?:ENOENT|Unexpected end of JSON|SyntaxError)|(?:ENOENT|Unexpected end of JSON).*(?:app-)?build-manifest\.json`), CacheCorruption, "build manifest"},
	// bundler internals
	{regexp.MustCompile(`TurbopackInternalError|An unexpected Turbopack error occurred`), CacheCorruption, "turbopack internal error"},
	{regexp.MustCompile(`thread '[^']*' panicked at`), CacheCorruption, "bundler panic"},
	{regexp.MustCompile(`PackFileCacheStrategy\].*(?:Caching failed|Restoring failed|invalid)`), CacheCorruption, "webpack pack cache"},
	// ENOENT restricted to cache directories; user paths must not match
	{regexp.MustCompile(`ENOENT.*(?:^|[\s'"(/\\])(?:\.next|\.turbo|\.vite|\.nuxt|\.svelte-kit|node_modules[/\\]\.(?:cache|vite))(?:[/\\'"\s)]|$)`), CacheCorruption, "missing cache file"},
	{regexp.MustCompile(`Cannot find module '[^']*[/\\]\.next[/\\]`), CacheCorruption, "missing cache chunk"},
	// Windows file locks on temp or cache files
	{regexp.MustCompile(`(?:EPERM|EBUSY|EACCES)\b.*(?:\.tmp\b|[/\\]\.next[/\\])`), CacheCorruption, "locked cache file"},

	{regexp.MustCompile(`Module not found: (?:Error: )?Can't resolve '`), MissingModule, "unresolved import"},
	{regexp.MustCompile(`Cannot find (?:module|package) '`), MissingModule, "missing package"},

	{regexp.MustCompile(`(?i)\bready in \d|ready - started server on|\bLocal:\s+https?://|compiled successfully`), Ready, "server ready"},
}

var moduleNameRe = regexp.MustCompile(`(?:Can't resolve|Cannot find (?:module|package)) '([^']+)'`)

// Classify matches one line against the port-conflict check and then the
// signature table. It never fails; an unmatched line yields Category None.
func Classify(line string) Match {
	if p, ok := port.ExtractPort(line); ok {
		return Match{Category: PortConflict, Label: "address in use", Port: p}
	}
	for _, s := range Signatures {
		if !s.Pattern.MatchString(line) {
			continue
		}
		m := Match{Category: s.Category, Label: s.Label}
		if s.Category == MissingModule {
			if name, ok := ExtractModuleName(line); ok {
				m.Module = name
			} else {
				// a relative import is a code bug, not an uninstalled package
				return Match{}
			}
		}
		return m
	}
	return Match{}
}

// ExtractModuleName returns the package root named in a missing-module
// message ("@scope/pkg/sub" -> "@scope/pkg", "lodash/fp" -> "lodash").
// Relative and absolute paths are not packages and are rejected.
func ExtractModuleName(line string) (string, bool) {
	sm := moduleNameRe.FindStringSubmatch(line)
	if len(sm) < 2 {
		return "", false
	}
	name := sm[1]
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", false
	}
	parts := strings.Split(name, "/")
	if strings.HasPrefix(name, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return "", false
		}
		return parts[0] + "/" + parts[1], true
	}
	return parts[0], true
}
