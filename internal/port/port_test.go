package port

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPort(t *testing.T) {
	formats := []string{
		"Error: listen EADDRINUSE: address already in use :::%d",
		"Error: listen EADDRINUSE: address already in use 127.0.0.1:%d",
		"listen tcp 0.0.0.0:%d: bind: address already in use",
		"error: Port %d is already in use",
	}
	for _, p := range []int{1, 80, 3000, 5173, 8080, 65535} {
		for _, f := range formats {
			msg := fmt.Sprintf(f, p)
			got, ok := ExtractPort(msg)
			require.True(t, ok, msg)
			assert.Equal(t, p, got, msg)
			assert.Equal(t, p+1, Next(got))
		}
	}
}

func TestExtractPort_NoMatch(t *testing.T) {
	for _, s := range []string{
		"",
		"GET / 200 in 12ms",
		"Port 5173 is in use, trying another one...",
		"EADDRINUSE: address already in use :::99999",
	} {
		_, ok := ExtractPort(s)
		assert.False(t, ok, s)
	}
}

func TestRewriteArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"append when absent", nil, []string{"--port", "3001"}},
		{"append after others", []string{"--turbo"}, []string{"--turbo", "--port", "3001"}},
		{"replace separate", []string{"--port", "3000", "--turbo"}, []string{"--port", "3001", "--turbo"}},
		{"replace equals", []string{"--port=3000"}, []string{"--port=3001"}},
		{"replace short", []string{"-p", "3000"}, []string{"-p", "3001"}},
		{"replace short joined", []string{"-p3000"}, []string{"-p3001"}},
		{"drop duplicates", []string{"--port", "3000", "-p", "4000"}, []string{"--port", "3001"}},
		{"dangling flag", []string{"--port"}, []string{"--port", "3001"}},
		{"unrelated p flag", []string{"-profile"}, []string{"-profile", "--port", "3001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var orig []string
			orig = append(orig, tt.in...)
			got := RewriteArgs(tt.in, 3001)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, orig, tt.in, "input must not be mutated")
		})
	}
}
