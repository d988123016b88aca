package executor

import (
	"regexp"
	"strings"
)

var extTargetRe = regexp.MustCompile(`^(\$?[A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)

// splitExtTarget recognizes the optional "target = Call(args)" binding form
// on an EXT directive's payload (spec §4.8: "results bind ... into
// frame.locals"). Returns an empty target when the payload is a bare call.
func splitExtTarget(payload string) (target string, isState bool, call string) {
	if m := extTargetRe.FindStringSubmatch(payload); m != nil {
		t := m[1]
		if strings.HasPrefix(t, "$") {
			return t[1:], true, m[2]
		}
		return t, false, m[2]
	}
	return "", false, payload
}

// splitFirstWord splits s into its first whitespace-delimited token and
// the (trimmed) remainder.
func splitFirstWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// defaultBind strips an optional leading "$" from an explicit bind name,
// falling back to fallback when none was given.
func defaultBind(explicit, fallback string) string {
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		return fallback
	}
	return strings.TrimPrefix(explicit, "$")
}

// evalExprOnly evaluates a plain (non-assignment) expression string.
func evalExprOnly(src string, env *Environment) (Value, error) {
	assign, err := ParseAssignment(src)
	if err != nil {
		return Nil(), err
	}
	return assign.Expr.eval(env)
}
