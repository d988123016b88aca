// Package trigger compiles a playbook's "### Triggers" bullets (C6) into
// predicates over incoming queue events and evaluates them against an
// agent's trigger catalog on each intake event (spec §4.12, C12): invoke
// the most specific matching playbook, or leave the event for the
// currently suspended interpreter's own WaitForMessage. Grounded on
// `reasoning/strategy.go`'s hook-dispatch idiom (a small interface plus a
// dispatch table), generalized here to event-predicate matching instead of
// iteration hooks.
package trigger

import (
	"strings"

	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
)

// Kind distinguishes the event source a compiled trigger reacts to.
type Kind string

const (
	// KindProgramStart triggers are resolved once, at program init
	// (playbook.AgentClass.StartAtInit); they never match a runtime event.
	KindProgramStart Kind = "program_start"
	// KindCron triggers fire on a schedule, independent of queue events
	// (SUPPLEMENT: scheduled/periodic triggers).
	KindCron Kind = "cron"
	// KindMeetingInvite triggers match an incoming meeting_invite message.
	KindMeetingInvite Kind = "meeting_invite"
	// KindMessage triggers match by keyword/phrase against message content.
	KindMessage Kind = "message"
)

// Compiled is one playbook trigger, ready to be matched against events.
type Compiled struct {
	Playbook string // the playbook this trigger invokes when matched
	Source   string // original "### Triggers" bullet text
	Kind     Kind

	// Phrases are quoted substrings from Source; a KindMessage trigger with
	// phrases matches if the message content contains ANY of them.
	Phrases []string
	// Keywords are unquoted significant words from Source; a KindMessage
	// trigger with no phrases matches if the message content contains ALL
	// of them.
	Keywords []string
	// CronExpr is the 5-field cron expression for a KindCron trigger.
	CronExpr string

	// Specificity orders competing matches (spec §4.12: "most-specific
	// trigger wins"); higher wins. Catalog order (see CompileClass) is the
	// tie-break among equal specificity.
	Specificity int
	order       int
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "to": true, "of": true, "on": true, "in": true, "at": true,
	"when": true, "any": true, "message": true, "mentions": true, "about": true,
	"asked": true, "asks": true, "or": true, "and": true, "for": true, "it": true,
	"this": true, "that": true, "receives": true, "received": true, "with": true,
}

func isProgramStart(lower string) bool {
	return strings.Contains(lower, "at program start") ||
		strings.Contains(lower, "on program start") ||
		strings.Contains(lower, "program startup")
}

func isMeetingInvite(lower string) bool {
	return strings.Contains(lower, "meeting invite") ||
		strings.Contains(lower, "invited to a meeting") ||
		strings.Contains(lower, "when invited")
}

// compile parses one raw trigger bullet into a Compiled trigger for
// playbookName at catalog position order.
func compile(playbookName, text string, order int) (Compiled, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Compiled{}, perr.New(perr.KindTriggerParseError, "trigger", "compile", "empty trigger text", nil)
	}
	lower := strings.ToLower(trimmed)

	if isProgramStart(lower) {
		return Compiled{Playbook: playbookName, Source: trimmed, Kind: KindProgramStart, order: order}, nil
	}

	if expr, ok := cutCronPrefix(lower, trimmed); ok {
		return Compiled{
			Playbook: playbookName, Source: trimmed, Kind: KindCron,
			CronExpr: expr, Specificity: 100, order: order,
		}, nil
	}

	if isMeetingInvite(lower) {
		return Compiled{Playbook: playbookName, Source: trimmed, Kind: KindMeetingInvite, Specificity: 1, order: order}, nil
	}

	phrases := extractPhrases(trimmed)
	if len(phrases) > 0 {
		spec := 0
		for _, p := range phrases {
			spec += len(p)
		}
		return Compiled{Playbook: playbookName, Source: trimmed, Kind: KindMessage, Phrases: phrases, Specificity: spec, order: order}, nil
	}

	keywords := extractKeywords(lower)
	return Compiled{Playbook: playbookName, Source: trimmed, Kind: KindMessage, Keywords: keywords, Specificity: len(keywords), order: order}, nil
}

// cutCronPrefix recognizes an "every <cron-expr>" trigger and returns the
// raw (non-lowercased) expression, preserving case-insensitive field names
// cron itself doesn't care about but keeping the split point found via the
// lowercased text.
func cutCronPrefix(lower, original string) (string, bool) {
	const prefix = "every "
	if !strings.HasPrefix(lower, prefix) {
		return "", false
	}
	return strings.TrimSpace(original[len(prefix):]), true
}

// extractPhrases pulls out double-quoted substrings from text.
func extractPhrases(text string) []string {
	var phrases []string
	for {
		start := strings.IndexByte(text, '"')
		if start < 0 {
			break
		}
		rest := text[start+1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			break
		}
		phrase := strings.ToLower(strings.TrimSpace(rest[:end]))
		if phrase != "" {
			phrases = append(phrases, phrase)
		}
		text = rest[end+1:]
	}
	return phrases
}

// extractKeywords splits lower into significant words, dropping stopwords
// and punctuation.
func extractKeywords(lower string) []string {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// matchesMessage reports whether c (a KindMessage or KindMeetingInvite
// trigger) matches msg.
func (c Compiled) matchesMessage(msg message.Message) bool {
	switch c.Kind {
	case KindMeetingInvite:
		return msg.Type() == message.TypeMeetingInvite
	case KindMessage:
		content := strings.ToLower(msg.Content())
		if len(c.Phrases) > 0 {
			for _, p := range c.Phrases {
				if strings.Contains(content, p) {
					return true
				}
			}
			return false
		}
		if len(c.Keywords) == 0 {
			return true // catch-all: "on any message"
		}
		for _, k := range c.Keywords {
			if !strings.Contains(content, k) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
