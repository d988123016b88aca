// Package prompt composes the LLM input string that drives one step of
// playbook interpretation for an AI agent (spec §4.7, C7): stack state,
// session log, callable-playbook catalog, and trigger catalog, following
// hector's agent.buildPromptSlots / PromptService composable-sections
// pattern (agent/services.go, agent/agent.go).
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/state"
)

const preamble = `You are the interpreter for a playbook-driven agent. Advance execution by emitting labelled directive lines only:
  LABEL: EXE <code>        internal execution, merged into locals
  LABEL: EXT <Call(args)>  external call: native playbook, markdown playbook, or tool
  LABEL: YLD <kind>        suspend (user | agent <id> | meeting | call <site> | timeout <seconds>)
  LABEL: CND <predicate>   record the branch taken
  LABEL: RET <expr?>       return from the current playbook
Each LABEL must match a step label from the active playbook's source. Free text outside labelled lines is recorded but never executed.`

// DefaultLogWindowTokens is the default token budget reserved for the
// recent-session-log section of the prompt.
const DefaultLogWindowTokens = 2000

// Input bundles everything needed to render one interpreter turn.
type Input struct {
	AgentID     string
	AgentKlass  string
	Frame       *state.CallStackFrame
	StateVars   map[string]any
	SessionLog  []state.LogEntry
	Active      *playbook.Playbook // the playbook backing the top-of-stack frame
	Own         map[string]*playbook.Playbook
	Peers       []Descriptor // public playbooks from other agents
	Triggers    []playbook.TriggerSource
	LogBudget   *TokenBudget
	LogMaxTokens int
}

// Build renders the full prompt string for one interpreter turn.
func Build(in Input) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")

	writeFrame(&b, in)
	writeCatalog(&b, in)
	writeTriggers(&b, in.Triggers)
	writeSessionLog(&b, in)

	return b.String()
}

func writeFrame(b *strings.Builder, in Input) {
	fmt.Fprintf(b, "## Agent\nid: %s\nklass: %s\n\n", in.AgentID, in.AgentKlass)

	if in.Frame != nil {
		fmt.Fprintf(b, "## Active playbook: %s\nstep: %s\n\n", in.Frame.PlaybookName, orDash(in.Frame.IP))
		if in.Active != nil {
			b.WriteString("### Source\n")
			b.WriteString(in.Active.Body)
			b.WriteString("\n\n")
		}
		if len(in.Frame.Locals) > 0 {
			b.WriteString("### Locals\n")
			for _, name := range sortedKeys(in.Frame.Locals) {
				fmt.Fprintf(b, "- %s = %s\n", name, renderValue(in.Frame.Locals[name]))
			}
			b.WriteString("\n")
		}
	}

	if len(in.StateVars) > 0 {
		b.WriteString("### State vars\n")
		for _, name := range sortedKeys(in.StateVars) {
			fmt.Fprintf(b, "- self.state.%s = %s\n", name, renderValue(in.StateVars[name]))
		}
		b.WriteString("\n")
	}
}

func writeCatalog(b *strings.Builder, in Input) {
	if len(in.Own) == 0 && len(in.Peers) == 0 {
		return
	}
	b.WriteString("## Callable playbooks\n")
	for _, name := range sortedPlaybookKeys(in.Own) {
		pb := in.Own[name]
		if in.Active != nil && pb.Name == in.Active.Name {
			continue // already shown verbatim above
		}
		fmt.Fprintf(b, "- %s — %s\n", Signature(pb.Name, pb.Params), orDash(pb.Description))
	}
	for _, d := range in.Peers {
		fmt.Fprintf(b, "- %s.%s — %s\n", d.AgentName, d.Name, orDash(d.Description))
	}
	b.WriteString("\n")
}

func writeTriggers(b *strings.Builder, triggers []playbook.TriggerSource) {
	if len(triggers) == 0 {
		return
	}
	b.WriteString("## Trigger catalog\n")
	for _, t := range triggers {
		fmt.Fprintf(b, "- %s\n", t.Text)
	}
	b.WriteString("\n")
}

func writeSessionLog(b *strings.Builder, in Input) {
	entries := in.SessionLog
	if in.LogBudget != nil {
		max := in.LogMaxTokens
		if max <= 0 {
			max = DefaultLogWindowTokens
		}
		entries = in.LogBudget.FitLogWindow(entries, max)
	}
	if len(entries) == 0 {
		return
	}
	b.WriteString("## Recent session log\n")
	for _, e := range entries {
		b.WriteString(renderLogEntry(e))
		b.WriteString("\n")
	}
}

func renderLogEntry(e state.LogEntry) string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Content)
}

// renderValue implements the context-prefix rule: literals shown inline,
// non-literal complex values shown as typed placeholders (spec §4.7).
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("<%T>", val)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPlaybookKeys(m map[string]*playbook.Playbook) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
