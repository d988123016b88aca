package executor

import (
	"regexp"
	"strings"

	"github.com/playbooks-run/core/perr"
)

// DirectiveKind is one of the five typed directive lines the interpreter
// may emit (spec §4.7, GLOSSARY), plus two executor-internal
// classifications for lines that carry no instruction.
type DirectiveKind string

const (
	DirExe       DirectiveKind = "EXE"
	DirExt       DirectiveKind = "EXT"
	DirYld       DirectiveKind = "YLD"
	DirCnd       DirectiveKind = "CND"
	DirRet       DirectiveKind = "RET"
	DirLabelOnly DirectiveKind = "LABEL"
	DirFreeText  DirectiveKind = "TEXT"
)

// Directive is one classified, complete statement from the LLM stream.
type Directive struct {
	Label   string
	Kind    DirectiveKind
	Payload string
	Raw     string
}

var directiveLineRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*:\s*(EXE|EXT|YLD|CND|RET)\s+(.*)$`)
var labelOnlyRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*:\s*$`)

// Classify turns one line of LLM output into a Directive. Lines that do
// not match the labelled-directive grammar are assistant commentary
// (spec §6: "captured into the session log as assistant commentary but
// never executed").
func Classify(line string) Directive {
	trimmed := strings.TrimRight(line, "\r")
	if m := directiveLineRe.FindStringSubmatch(trimmed); m != nil {
		return Directive{Label: m[1], Kind: DirectiveKind(m[2]), Payload: strings.TrimSpace(m[3]), Raw: line}
	}
	if m := labelOnlyRe.FindStringSubmatch(trimmed); m != nil {
		return Directive{Label: m[1], Kind: DirLabelOnly, Raw: line}
	}
	if strings.TrimSpace(trimmed) == "" {
		return Directive{Kind: DirFreeText, Raw: line}
	}
	return Directive{Kind: DirFreeText, Payload: strings.TrimSpace(trimmed), Raw: line}
}

// ParseCallNotation parses the "Name(arg1, arg2, ...)" notation used by
// EXT directives into a callee name and its raw argument expressions
// (spec §4.7/§4.8).
func ParseCallNotation(payload string) (string, []string, error) {
	open := strings.IndexByte(payload, '(')
	if open < 0 || !strings.HasSuffix(strings.TrimSpace(payload), ")") {
		return "", nil, perr.New(perr.KindParseError, "executor", "ParseCallNotation", "not a call: "+payload, nil)
	}
	name := strings.TrimSpace(payload[:open])
	inner := strings.TrimSpace(payload[open+1:])
	inner = strings.TrimSuffix(inner, ")")
	if name == "" {
		return "", nil, perr.New(perr.KindParseError, "executor", "ParseCallNotation", "missing callee name: "+payload, nil)
	}
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	return name, splitArgs(inner), nil
}

// splitArgs splits a call's argument list on top-level commas, respecting
// nested parens/brackets/braces/quotes.
func splitArgs(s string) []string {
	var parts []string
	depth := 0
	var inQuote rune
	start := 0
	runes := []rune(s)
	for i, c := range runes {
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(string(runes[start:i])))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(string(runes[start:])))
	return parts
}
