package notation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// The loose tree is made of map[string]any, []any, string, float64, bool and nil.
// Every lookup goes through list, so a child that appears once (an object) and
// a child that appears several times (a slice) are walked the same way.

// list canonicalizes any node into a collection: nil is empty, a slice is
// itself, anything else is a one-element collection.
func list(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// isSpecial reports keys that hold attributes or text rather than children.
func isSpecial(k string) bool {
	switch k {
	case "$", "_", "#text", "@":
		return true
	}
	return false
}

// foldName makes names comparable across casing, separators, namespace
// prefixes and attribute markers: "mx:default-x", "@_defaultX" and
// "DEFAULT_X" all fold to "defaultx".
func foldName(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimLeft(s, "@")
	s = strings.NewReplacer("-", "", "_", "", ".", "").Replace(s)
	// A Caser is stateful; build one per call so concurrent runs never share it.
	return cases.Fold().String(s)
}

// matchingKeys returns the keys of m that fold to name, sorted so that lookups
// stay deterministic when a document spells the same element two ways.
func matchingKeys(m map[string]any, name string) []string {
	want := foldName(name)
	var keys []string
	for k := range m {
		if isSpecial(k) || strings.HasPrefix(k, "@") {
			continue
		}
		if foldName(k) == want {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// children returns every child named name, in key order then document order.
func children(v any, name string) []any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var out []any
	for _, k := range matchingKeys(m, name) {
		out = append(out, list(m[k])...)
	}
	return out
}

// child returns the first child named name.
func child(v any, name string) (any, bool) {
	c := children(v, name)
	if len(c) == 0 {
		return nil, false
	}
	return c[0], true
}

// has reports whether a child named name is present, including empty
// elements such as <rest/>.
func has(v any, name string) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return len(matchingKeys(m, name)) > 0
}

// text returns the scalar text of a node.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case map[string]any:
		for _, k := range []string{"_", "#text"} {
			if s, ok := t[k]; ok {
				return text(s)
			}
		}
	}
	return "", false
}

// attr looks up an attribute under the "$" map or as an "@name" key.
func attr(v any, name string) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	want := foldName(name)
	if attrs, ok := m["$"].(map[string]any); ok {
		for _, k := range sortedKeys(attrs) {
			if foldName(k) == want {
				return text(attrs[k])
			}
		}
	}
	for _, k := range sortedKeys(m) {
		if strings.HasPrefix(k, "@") && foldName(k) == want {
			return text(m[k])
		}
	}
	return "", false
}

// field returns an attribute or, failing that, the text of a child element.
func field(v any, name string) (string, bool) {
	if s, ok := attr(v, name); ok && s != "" {
		return s, true
	}
	c, ok := child(v, name)
	if !ok {
		return "", false
	}
	s, ok := text(c)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// number parses a numeric field.
func number(v any, name string) (float64, bool, error) {
	s, ok := field(v, name)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s=%q is not a number", name, s)
	}
	return f, true, nil
}

// sortedKeys lists a map's keys in order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shape describes a node for structure diagnostics.
func shape(v any) string {
	switch t := v.(type) {
	case nil:
		return "nothing"
	case map[string]any:
		return fmt.Sprintf("object with keys %v", sortedKeys(t))
	case []any:
		return fmt.Sprintf("list of %d", len(t))
	default:
		return fmt.Sprintf("%T", v)
	}
}
