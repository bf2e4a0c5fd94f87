package patch

import (
	"strconv"
	"strings"
)

// rule maps a path pattern to a decision. Pattern tokens: "#" matches an
// array index, "*" any single token, and a trailing "**" any suffix,
// including none.
type rule struct {
	pattern   string
	patchable bool
	// literal requires added or replaced values to hold no signal, field
	// or scale references.
	literal bool
}

// table is the complete list of paths a patch may touch. It is consulted
// in order and the first matching rule wins; unmatched paths reject.
var table = []rule{
	{pattern: "/data/**", patchable: false},
	{pattern: "/signals/**", patchable: false},
	{pattern: "/scales/#/domain/**", patchable: false},
	{pattern: "/marks/#/from/**", patchable: false},
	{pattern: "/marks/#/transform/**", patchable: false},

	{pattern: "/width/**", patchable: true, literal: true},
	{pattern: "/height/**", patchable: true, literal: true},
	{pattern: "/padding/**", patchable: true, literal: true},
	{pattern: "/background/**", patchable: true, literal: true},
	{pattern: "/autosize/**", patchable: true, literal: true},
	{pattern: "/description/**", patchable: true},
	{pattern: "/title/**", patchable: true, literal: true},
	{pattern: "/config/**", patchable: true, literal: true},

	{pattern: "/axes/#/title/**", patchable: true, literal: true},
	{pattern: "/axes/#/labelAngle", patchable: true, literal: true},
	{pattern: "/axes/#/labelColor", patchable: true, literal: true},
	{pattern: "/axes/#/tickCount", patchable: true, literal: true},
	{pattern: "/axes/#/grid", patchable: true, literal: true},
	{pattern: "/axes/#/orient", patchable: true, literal: true},
	{pattern: "/axes/#/titleColor", patchable: true, literal: true},
	{pattern: "/axes/#/domainColor", patchable: true, literal: true},

	{pattern: "/marks/#/encode/*/*/value", patchable: true, literal: true},

	{pattern: "/scales/#/range/**", patchable: true, literal: true},
	{pattern: "/scales/#/nice", patchable: true, literal: true},
	{pattern: "/scales/#/zero", patchable: true, literal: true},
	{pattern: "/scales/#/padding", patchable: true, literal: true},
}

// classify reports whether op may be applied to a previous result.
func classify(op Op) bool {
	path := flattenGroups(op.Path)
	for _, r := range table {
		if !matches(r.pattern, path) {
			continue
		}
		if !r.patchable {
			return false
		}
		if r.literal && op.Kind != OpRemove && !isLiteral(op.Value) {
			return false
		}
		return true
	}
	return false
}

// flattenGroups rewrites the path of a mark nested in group marks to the
// path of a top-level mark so one rule covers every depth.
func flattenGroups(path []string) []string {
	for len(path) >= 4 && path[0] == "marks" && isIndex(path[1]) && path[2] == "marks" && isIndex(path[3]) {
		path = path[2:]
	}
	return path
}

func matches(pattern string, path []string) bool {
	tokens := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	for i, t := range tokens {
		if t == "**" {
			return true
		}
		if i >= len(path) {
			return false
		}
		switch t {
		case "#":
			if !isIndex(path[i]) {
				return false
			}
		case "*":
		default:
			if path[i] != t {
				return false
			}
		}
	}
	return len(tokens) == len(path)
}

func isIndex(token string) bool {
	n, err := strconv.Atoi(token)
	return err == nil && n >= 0
}

// isLiteral reports whether v holds no reference a renderer would resolve.
func isLiteral(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		for _, key := range []string{"signal", "field", "scale", "data"} {
			if _, ok := x[key]; ok {
				return false
			}
		}
		for _, e := range x {
			if !isLiteral(e) {
				return false
			}
		}
	case []any:
		for _, e := range x {
			if !isLiteral(e) {
				return false
			}
		}
	}
	return true
}
