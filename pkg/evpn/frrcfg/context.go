// Package frrcfg represents an FRR configuration as an ordered set of
// context/line pairs, the same shape FRR's own frr-reload tooling diffs
// running config against target config with. Grounded on the
// context-object model described in original_source/frrmanager.py
// (compare_context_objects / lines_to_config), reimplemented here since
// frr-reload.py itself ships with FRR, not with this repo.
package frrcfg

import "strings"

// Entry is one line of configuration nested under a context path. A
// context that exists but carries no body lines (e.g. a bare route-map
// sequence entered and immediately exited) is represented with Line ==
// "" — its presence alone means the context must exist.
type Entry struct {
	Context []string
	Line    string
}

func (e Entry) key() string {
	return strings.Join(e.Context, "\x00") + "\x01" + e.Line
}

// Config is a parsed configuration: an ordered, deduplicated list of
// entries in the order first encountered.
type Config []Entry

// exitKeywords close the most recently opened context without becoming a
// body line themselves.
var exitKeywords = map[string]bool{
	"exit":                 true,
	"exit-address-family":  true,
	"exit-vrf":              true,
}

// ctxPrefixes are the line prefixes FRR treats as entering a configuration
// sub-mode (vtysh "context"). Anything else is a plain statement in
// whatever context is currently open.
var ctxPrefixes = []string{
	"router ",
	"interface ",
	"vrf ",
	"address-family ",
	"route-map ",
	"key chain ",
	"line vty",
	"bfd",
}

func isContextHeader(line string) bool {
	for _, p := range ctxPrefixes {
		if strings.HasPrefix(line, p) || line == strings.TrimSpace(p) {
			return true
		}
	}
	return false
}

// Parse reads an FRR-style configuration (as produced by `vtysh -c "show
// running-config"`, or the agent's own generated snippets) into a Config.
// Context nesting is tracked by a stack of recognised context-opening
// statements, popped by exit/exit-address-family/exit-vrf; indentation
// itself is cosmetic and ignored.
func Parse(text string) Config {
	var cfg Config
	seen := make(map[string]bool)

	add := func(path []string, line string) {
		e := Entry{Context: append([]string(nil), path...), Line: line}
		k := e.key()
		if seen[k] {
			return
		}
		seen[k] = true
		cfg = append(cfg, e)
	}

	type frame struct {
		header  string
		hadBody bool
	}
	var stack []frame

	path := func() []string {
		p := make([]string, len(stack))
		for i, f := range stack {
			p[i] = f.header
		}
		return p
	}

	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || trimmed == "!" {
			continue
		}

		if exitKeywords[trimmed] {
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if !top.hadBody {
					add(append(path(), top.header), "")
				}
			}
			continue
		}

		if isContextHeader(trimmed) {
			stack = append(stack, frame{header: trimmed})
			continue
		}

		if len(stack) > 0 {
			stack[len(stack)-1].hadBody = true
		}
		add(path(), trimmed)
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !top.hadBody {
			add(append(path(), top.header), "")
		}
	}

	return cfg
}
