package port

import (
	"regexp"
	"strconv"
	"strings"
)

var inUseRes = []*regexp.Regexp{
	// node: "listen EADDRINUSE: address already in use :::3000" / "127.0.0.1:8080"
	regexp.MustCompile(`(?:EADDRINUSE|address already in use)[^\n]*?:(\d{1,5})\b`),
	// go/python style: "listen tcp 0.0.0.0:8080: bind: address already in use"
	regexp.MustCompile(`:(\d{1,5}): bind: address already in use`),
	// vite (strictPort) and friends: "Port 5173 is already in use"
	regexp.MustCompile(`(?i)\bport (\d{1,5}) is already in use`),
}

// ExtractPort returns the blocked port embedded in an address-in-use message.
func ExtractPort(text string) (int, bool) {
	for _, re := range inUseRes {
		sm := re.FindStringSubmatch(text)
		if len(sm) < 2 {
			continue
		}
		p, err := strconv.Atoi(sm[1])
		if err != nil || !Valid(p) {
			continue
		}
		return p, true
	}
	return 0, false
}

// Valid reports whether p is a usable TCP port number.
func Valid(p int) bool { return p > 0 && p <= 65535 }

// Next returns the candidate port after a blocked one.
func Next(blocked int) int { return blocked + 1 }

// RewriteArgs returns a copy of args carrying "--port <p>". An existing port
// argument (--port N, --port=N, -p N, -pN) is replaced in place and any later
// duplicates are dropped; when none exists the flag is appended.
func RewriteArgs(args []string, p int) []string {
	val := strconv.Itoa(p)
	out := make([]string, 0, len(args)+2)
	replaced := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--port" || a == "-p":
			if !replaced {
				out = append(out, a, val)
				replaced = true
			}
			if i+1 < len(args) {
				i++ // skip old value
			}
		case strings.HasPrefix(a, "--port="):
			if !replaced {
				out = append(out, "--port="+val)
				replaced = true
			}
		case strings.HasPrefix(a, "-p") && len(a) > 2 && isDigits(a[2:]):
			if !replaced {
				out = append(out, "-p"+val)
				replaced = true
			}
		default:
			out = append(out, a)
		}
	}
	if !replaced {
		out = append(out, "--port", val)
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
