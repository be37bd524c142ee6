package main

import (
	"strings"

	"github.com/spf13/pflag"
)

// splitArgs separates revivr's own flags from everything else. Unknown flags
// and positionals keep their order in rest; everything after "--" goes to
// rest as is.
func splitArgs(fs *pflag.FlagSet, args []string) (known, rest []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		f := lookup(fs, a)
		if f == nil {
			rest = append(rest, a)
			continue
		}
		known = append(known, a)
		if f.NoOptDefVal != "" || strings.Contains(a, "=") {
			continue
		}
		// value in the next token
		if i+1 < len(args) {
			i++
			known = append(known, args[i])
		}
	}
	return known, rest
}

func lookup(fs *pflag.FlagSet, arg string) *pflag.Flag {
	switch {
	case strings.HasPrefix(arg, "--") && len(arg) > 2:
		name, _, _ := strings.Cut(arg[2:], "=")
		return fs.Lookup(name)
	case strings.HasPrefix(arg, "-") && len(arg) == 2:
		return fs.ShorthandLookup(arg[1:])
	default:
		return nil
	}
}
