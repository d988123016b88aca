package trigger

import (
	"sort"

	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/playbook"
)

// Catalog is one agent's full compiled trigger set, in catalog order (see
// CompileClass).
type Catalog struct {
	triggers []Compiled
}

// CompileClass builds an agent class's trigger catalog from its playbooks:
// playbooks in alphabetical order of name, and each playbook's bullets in
// the order they appear in source. This catalog order is Match's tie-break
// among equal specificity; it does not follow the order in which the
// playbooks themselves appear in source.
func CompileClass(class *playbook.AgentClass) (*Catalog, error) {
	names := make([]string, 0, len(class.Playbooks))
	for name := range class.Playbooks {
		names = append(names, name)
	}
	sort.Strings(names)

	var compiled []Compiled
	order := 0
	for _, name := range names {
		pb := class.Playbooks[name]
		for _, t := range pb.Triggers {
			c, err := compile(name, t.Text, order)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, c)
			order++
		}
	}
	return &Catalog{triggers: compiled}, nil
}

// ProgramStartTriggers returns the catalog's program-start triggers, in
// catalog order — the playbooks Program (C10) invokes once at boot.
func (c *Catalog) ProgramStartTriggers() []Compiled {
	var out []Compiled
	for _, t := range c.triggers {
		if t.Kind == KindProgramStart {
			out = append(out, t)
		}
	}
	return out
}

// CronTriggers returns the catalog's scheduled triggers (SUPPLEMENT).
func (c *Catalog) CronTriggers() []Compiled {
	var out []Compiled
	for _, t := range c.triggers {
		if t.Kind == KindCron {
			out = append(out, t)
		}
	}
	return out
}

// Match evaluates msg against the catalog's message/meeting-invite
// triggers and returns the single best match per spec §4.12: most specific
// wins, catalog order breaks ties.
func (c *Catalog) Match(msg message.Message) (Compiled, bool) {
	var best Compiled
	found := false
	for _, t := range c.triggers {
		if t.Kind != KindMessage && t.Kind != KindMeetingInvite {
			continue
		}
		if !t.matchesMessage(msg) {
			continue
		}
		if !found || t.Specificity > best.Specificity ||
			(t.Specificity == best.Specificity && t.order < best.order) {
			best, found = t, true
		}
	}
	return best, found
}
