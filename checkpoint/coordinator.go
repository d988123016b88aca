package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/metrics"
	"github.com/playbooks-run/core/state"
)

// tracer grounds checkpoint spans on the same global-API idiom as the
// executor package's per-directive tracer.
func tracer() trace.Tracer {
	return otel.Tracer("github.com/playbooks-run/core/checkpoint")
}

// Coordinator owns the save/retention/resume policy sitting above a raw
// Provider (spec §4.11): it records each agent's latest checkpoint id,
// periodically rewrites the program-level checkpoint, enforces retention,
// and resolves the resume set by trusting on-disk state over whatever id
// the last program checkpoint remembered (spec: "for each agent use the
// latest agent checkpoint found on disk, not the possibly-stale id the
// program checkpoint recorded").
type Coordinator struct {
	provider  Provider
	metrics   *metrics.Metrics
	keepLastN int

	latest map[string]string // agent id -> last-saved checkpoint id, this process's view
}

// NewCoordinator creates a Coordinator over provider. keepLastN <= 0 means
// unlimited retention (DeleteOld is never called).
func NewCoordinator(provider Provider, m *metrics.Metrics, keepLastN int) *Coordinator {
	return &Coordinator{provider: provider, metrics: m, keepLastN: keepLastN, latest: map[string]string{}}
}

// SaveAgent persists one agent's execution state as a new checkpoint,
// tagged with the currently active trace/span (if any), and enforces
// retention afterward (spec §4.11: "checkpoint on every suspension
// point").
func (c *Coordinator) SaveAgent(ctx context.Context, agentID ids.AgentID, st *state.ExecutionState, meta Metadata) (string, error) {
	ctx, span := tracer().Start(ctx, "checkpoint.SaveAgent")
	defer span.End()

	id := NewCheckpointID()
	rec := Record{
		SchemaVersion: SchemaVersion,
		AgentID:       agentID,
		CreatedAt:     time.Now(),
		State:         st.Snapshot(),
		Metadata:      meta,
	}
	sc := span.SpanContext()
	if sc.HasTraceID() {
		rec.TraceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		rec.SpanID = sc.SpanID().String()
	}

	if err := c.provider.SaveCheckpoint(ctx, id, rec); err != nil {
		c.metrics.RecordCheckpointFailed(agentID.String(), "save")
		span.RecordError(err)
		return "", err
	}
	c.metrics.RecordCheckpointSaved(agentID.String())
	c.latest[agentID.String()] = id

	if c.keepLastN > 0 {
		if err := c.provider.DeleteOld(ctx, agentID, c.keepLastN); err != nil {
			slog.Warn("checkpoint retention cleanup failed", "agent", agentID.String(), "error", err)
		}
	}
	return id, nil
}

// SaveProgram persists the program-level checkpoint referencing this
// process's current view of each agent's latest checkpoint id.
func (c *Coordinator) SaveProgram(ctx context.Context, openMeetings []string) error {
	ctx, span := tracer().Start(ctx, "checkpoint.SaveProgram")
	defer span.End()

	refs := make(map[string]string, len(c.latest))
	for k, v := range c.latest {
		refs[k] = v
	}
	rec := ProgramRecord{
		SchemaVersion:       SchemaVersion,
		CreatedAt:           time.Now(),
		AgentCheckpointRefs: refs,
		OpenMeetings:        openMeetings,
	}
	if err := c.provider.SaveProgramCheckpoint(ctx, rec); err != nil {
		c.metrics.RecordCheckpointFailed("program", "save")
		span.RecordError(err)
		return err
	}
	c.metrics.RecordCheckpointSaved("program")
	return nil
}

// ResumeAgent reports the checkpoint record to resume agentID from, trusting
// the on-disk latest checkpoint for that agent over any program-level ref.
// ok is false if no checkpoint exists for this agent (a fresh start).
func (c *Coordinator) ResumeAgent(ctx context.Context, agentID ids.AgentID) (Record, bool, error) {
	fsProvider, ok := c.provider.(interface {
		LatestCheckpoint(ctx context.Context, agentID ids.AgentID) (string, bool, error)
	})
	var (
		latestID string
		found    bool
		err      error
	)
	if ok {
		latestID, found, err = fsProvider.LatestCheckpoint(ctx, agentID)
	} else {
		ids, lerr := c.provider.ListCheckpoints(ctx, agentID)
		err = lerr
		if lerr == nil && len(ids) > 0 {
			latestID, found = ids[len(ids)-1], true
		}
	}
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, nil
	}

	rec, err := c.provider.LoadCheckpoint(ctx, latestID)
	if err != nil {
		return Record{}, false, err
	}
	c.latest[agentID.String()] = latestID
	return rec, true, nil
}

// ResumeProgram loads the last program-level checkpoint, if any.
func (c *Coordinator) ResumeProgram(ctx context.Context) (ProgramRecord, bool, error) {
	rec, err := c.provider.LoadProgramCheckpoint(ctx)
	if err != nil {
		return ProgramRecord{}, false, nil
	}
	for agentID, checkpointID := range rec.AgentCheckpointRefs {
		c.latest[agentID] = checkpointID
	}
	return rec, true, nil
}

// LatestKnown returns this process's current view of agentID's last-saved
// checkpoint id, for diagnostics.
func (c *Coordinator) LatestKnown(agentID ids.AgentID) (string, bool) {
	id, ok := c.latest[agentID.String()]
	return id, ok
}
