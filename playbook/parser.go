package playbook

import (
	"regexp"
	"strings"

	"github.com/playbooks-run/core/perr"
)

// AST is the intermediate parse tree between source text and AgentClass
// values: one entry per H1 agent section.
type AST struct {
	Sections []Section
}

// Section is one H1 agent block: header plus its raw body lines, split out
// by the scanner before structural parsing.
type Section struct {
	Name        string
	Type        AgentType
	Description string
	MetadataRaw string
	Playbooks   []playbookAST
	NativeCode  []nativeCodeAST
}

type playbookAST struct {
	Name        string
	Params      []Param
	Flags       map[string]string
	Description string
	Triggers    []string
	Steps       []string
	Notes       []string
}

type nativeCodeAST struct {
	Name   string
	Params []Param
	Lang   string
	Body   string
}

var (
	h1Re         = regexp.MustCompile(`^#\s+([^:#]+?)(?::\s*(AI|Human|Remote))?\s*$`)
	h2Re         = regexp.MustCompile(`^##\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(([^)]*)\))?\s*$`)
	h3Re         = regexp.MustCompile(`^###\s+(Triggers|Steps|Notes)\s*$`)
	fenceRe      = regexp.MustCompile("^```\\s*([A-Za-z0-9_+-]*)\\s*$")
	flagLineRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.+)$`)
	nativeSigRe  = regexp.MustCompile(`^(?:func\s+|def\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)`)
)

// ParseAgentHeader parses an H1 line ("# Name[:Type]") into its name and
// type, defaulting to AI when the type suffix is absent.
func ParseAgentHeader(line string) (string, AgentType, error) {
	m := h1Re.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return "", "", perr.New(perr.KindParseError, "playbook", "ParseAgentHeader", "malformed H1 header: "+line, nil)
	}
	name := strings.TrimSpace(m[1])
	typ := AgentType(m[2])
	if typ == "" {
		typ = TypeAI
	}
	if typ != TypeAI && typ != TypeHuman && typ != TypeRemote {
		return "", "", perr.New(perr.KindUnknownAgentType, "playbook", "ParseAgentHeader", string(typ), nil)
	}
	return name, typ, nil
}

// Parse scans playbook source text into an AST of H1 sections.
func Parse(source string) (*AST, error) {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")

	var sections []Section
	i := 0
	for i < len(lines) {
		line := lines[i]
		if h1Re.MatchString(line) {
			name, typ, err := ParseAgentHeader(line)
			if err != nil {
				return nil, err
			}
			start := i + 1
			end := start
			for end < len(lines) && !h1Re.MatchString(lines[end]) {
				end++
			}
			sec, err := parseSectionBody(name, typ, lines[start:end])
			if err != nil {
				return nil, err
			}
			sections = append(sections, sec)
			i = end
			continue
		}
		i++
	}

	seen := map[string]bool{}
	for _, s := range sections {
		if seen[s.Name] {
			return nil, perr.New(perr.KindDuplicateAgent, "playbook", "Parse", s.Name, nil)
		}
		seen[s.Name] = true
	}

	return &AST{Sections: sections}, nil
}

func parseSectionBody(name string, typ AgentType, lines []string) (Section, error) {
	sec := Section{Name: name, Type: typ}

	i := 0
	var descLines []string
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if trimmed == "metadata:" {
			start := i + 1
			end := start
			for end < len(lines) && isIndented(lines[end]) {
				end++
			}
			sec.MetadataRaw = dedent(lines[start:end])
			i = end
			continue
		}
		if h2Re.MatchString(line) {
			end := i + 1
			for end < len(lines) && !h2Re.MatchString(lines[end]) && !fenceRe.MatchString(lines[end]) {
				end++
			}
			pb, err := parsePlaybookAST(lines[i:end])
			if err != nil {
				return Section{}, err
			}
			sec.Playbooks = append(sec.Playbooks, pb)
			i = end
			continue
		}
		if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
			end := i + 1
			for end < len(lines) && strings.TrimSpace(lines[end]) != "```" {
				end++
			}
			nc, err := parseNativeCode(m[1], lines[i+1:end])
			if err != nil {
				return Section{}, err
			}
			sec.NativeCode = append(sec.NativeCode, nc)
			i = end + 1
			continue
		}
		if trimmed != "" {
			descLines = append(descLines, trimmed)
		}
		i++
	}
	sec.Description = strings.TrimSpace(strings.Join(descLines, " "))
	return sec, nil
}

func parsePlaybookAST(lines []string) (playbookAST, error) {
	header := lines[0]
	m := h2Re.FindStringSubmatch(header)
	if m == nil {
		return playbookAST{}, perr.New(perr.KindParseError, "playbook", "parsePlaybook", "malformed H2 header: "+header, nil)
	}
	pb := playbookAST{Name: m[1], Flags: map[string]string{}}
	if m[2] != "" {
		params, err := parseParams(m[2])
		if err != nil {
			return playbookAST{}, err
		}
		pb.Params = params
	}

	var descLines []string
	i := 1
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if h3 := h3Re.FindStringSubmatch(line); h3 != nil {
			kind := h3[1]
			end := i + 1
			for end < len(lines) && !h3Re.MatchString(lines[end]) {
				end++
			}
			bullets := parseBullets(lines[i+1 : end])
			switch kind {
			case "Triggers":
				pb.Triggers = bullets
			case "Steps":
				pb.Steps = bullets
			case "Notes":
				pb.Notes = bullets
			}
			i = end
			continue
		}
		if flag := flagLineRe.FindStringSubmatch(trimmed); flag != nil && isKnownFlag(flag[1]) {
			pb.Flags[flag[1]] = strings.TrimSpace(flag[2])
			i++
			continue
		}
		if trimmed != "" {
			descLines = append(descLines, trimmed)
		}
		i++
	}
	pb.Description = strings.TrimSpace(strings.Join(descLines, " "))
	return pb, nil
}

func isKnownFlag(key string) bool {
	switch key {
	case "meeting", "public", "required_attendees", "optional_attendees", "remote":
		return true
	default:
		return false
	}
}

func parseParams(raw string) ([]Param, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := splitTopLevel(raw, ',')
	params := make([]Param, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.Index(part, "="); eq >= 0 {
			params = append(params, Param{
				Name:       strings.TrimSpace(strings.TrimPrefix(part[:eq], "$")),
				Default:    strings.TrimSpace(part[eq+1:]),
				HasDefault: true,
			})
		} else {
			params = append(params, Param{Name: strings.TrimPrefix(part, "$")})
		}
	}
	return params, nil
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// brackets/parens/braces/quotes (params may carry default values like
// "[1, 2]").
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var inQuote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseBullets(lines []string) []string {
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "- ")
		trimmed = strings.TrimPrefix(trimmed, "* ")
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseNativeCode(lang string, lines []string) (nativeCodeAST, error) {
	body := strings.Join(lines, "\n")
	for _, line := range lines {
		if m := nativeSigRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			params, err := parseParams(m[2])
			if err != nil {
				return nativeCodeAST{}, err
			}
			return nativeCodeAST{Name: m[1], Params: params, Lang: lang, Body: body}, nil
		}
	}
	return nativeCodeAST{}, perr.New(perr.KindParseError, "playbook", "parseNativeCode", "native code block has no recognizable signature", nil)
}

func isIndented(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func dedent(lines []string) string {
	min := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if min == -1 || n < min {
			min = n
		}
	}
	if min <= 0 {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= min {
			out[i] = l[min:]
		} else {
			out[i] = l
		}
	}
	return strings.Join(out, "\n")
}
