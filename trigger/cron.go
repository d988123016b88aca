package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/queue"
)

// cronParser is configured for standard 5-field cron (minute hour day month
// weekday), matching the HyphaGroup-oubliette scheduler's parser setup.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpr reports whether expr parses as a valid 5-field cron
// expression, surfaced as KindTriggerParseError on failure so a malformed
// "every <cron-expr>" trigger is caught at build time, not at first fire.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return perr.New(perr.KindTriggerParseError, "trigger", "ValidateCronExpr", fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return nil
}

// Scheduler owns one process-wide cron runner and registers an intake-queue
// Put for each agent's scheduled triggers (SUPPLEMENT: scheduled/periodic
// triggers filling out C12's timer event source).
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a stopped Scheduler; call Start to begin firing.
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// RegisterAgent schedules every cron trigger in catalog to enqueue a
// synthetic system message on q, as if the event source were itself an
// agent named "scheduler" — the trigger engine then matches it like any
// other incoming message (its Kind is already KindCron so Catalog.Match
// never considers it; the playbook is invoked directly here instead).
func (s *Scheduler) RegisterAgent(ctx context.Context, agentID ids.AgentID, q *queue.Queue, catalog *Catalog, invoke func(playbookName string)) error {
	for _, t := range catalog.CronTriggers() {
		t := t
		_, err := s.cron.AddFunc(t.CronExpr, func() {
			invoke(t.Playbook)
			msg, merr := message.New(message.Params{
				SenderID: ids.NewAgentID("scheduler"),
				Content:  "scheduled trigger fired: " + t.Playbook,
				Type:     message.TypeSystem,
			})
			if merr != nil {
				slog.Warn("cron synthetic message build failed", "agent", agentID.String(), "playbook", t.Playbook, "error", merr)
				return
			}
			if err := q.Put(msg, queue.PriorityFor(message.TypeSystem)); err != nil {
				slog.Warn("cron event enqueue failed", "agent", agentID.String(), "playbook", t.Playbook, "error", err)
			}
		})
		if err != nil {
			return perr.New(perr.KindTriggerParseError, "trigger", "RegisterAgent", "schedule "+t.Playbook+": "+err.Error(), err)
		}
	}
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any running jobs to finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
