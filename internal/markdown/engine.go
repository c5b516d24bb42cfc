// Package markdown serializes content regions into markdown documents.
package markdown

import (
	"sort"
	"strings"

	"lecker/internal/dom"
)

// DefaultEngine is the engine used when none is configured.
const DefaultEngine = "native"

// Engine turns a content region into a markdown document.
type Engine interface {
	Name() string
	Serialize(r *dom.Region) (string, error)
}

var registry = map[string]Engine{}

func init() {
	Register(Native{})
	Register(Library{})
}

func Register(e Engine) {
	registry[strings.ToLower(e.Name())] = e
}

func Get(name string) (Engine, bool) {
	e, ok := registry[strings.ToLower(name)]
	return e, ok
}

// Names lists the registered engines in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tidy collapses consecutive blank lines outside code fences, strips trailing
// whitespace and terminates non-empty output with a single newline.
func Tidy(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	fence := ""
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		marker := fenceMarker(line)
		switch {
		case fence == "" && marker != "":
			fence = marker
		case fence != "" && marker != "" && strings.TrimLeft(strings.TrimSpace(stripQuote(line)), "`") == "" && len(marker) >= len(fence):
			fence = ""
		case fence == "" && line == "":
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// fenceMarker returns the backtick run opening a fenced code line, if any.
func fenceMarker(line string) string {
	t := strings.TrimSpace(stripQuote(line))
	n := 0
	for n < len(t) && t[n] == '`' {
		n++
	}
	// An info string never contains a backtick; a line like ```a``b``` is
	// an inline code span.
	if n < 3 || strings.Contains(t[n:], "`") {
		return ""
	}
	return t[:n]
}

func stripQuote(line string) string {
	t := strings.TrimLeft(line, " ")
	for strings.HasPrefix(t, ">") {
		t = strings.TrimLeft(t[1:], " ")
	}
	return t
}
