// Package checkpoint implements the pluggable durability layer (spec
// §4.11, §6, C11): per-agent checkpoint records, a program-level
// coordinator checkpoint referencing each agent's latest known record, and
// a filesystem provider using write-temp-then-rename for save atomicity
// (spec §5 "the provider is responsible for atomicity of a single save").
// Grounded on hector's zero-config file watching/atomic-write idiom and
// generalized from team.TeamError's component-tagged error pattern (now
// perr.Error).
package checkpoint

import (
	"context"
	"time"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/state"
)

// SchemaVersion is the checkpoint record format version (spec §6).
const SchemaVersion = 1

// Record is one agent's persisted checkpoint (spec §6 "Checkpoint
// record"). There is no separate namespace field: frame locals travel in
// the State snapshot's CallStack (state.Snapshot), which copies them as
// they are without filtering, so a local that encoding/json cannot
// marshal makes the save fail.
type Record struct {
	SchemaVersion int
	AgentID       ids.AgentID
	CreatedAt     time.Time
	State         state.Snapshot
	Metadata      Metadata

	// TraceID/SpanID correlate a resumed execution's new span with the one
	// that was interrupted (SUPPLEMENT: trace-correlated checkpoints).
	TraceID string
	SpanID  string
}

// Metadata carries the last directive/yield-kind context a checkpoint was
// taken under (spec §6 "metadata (last_directive, last_yield_kind)").
type Metadata struct {
	LastDirective string
	LastYieldKind string
}

// ProgramRecord is the program-level coordinator checkpoint (spec §6
// "Program checkpoint").
type ProgramRecord struct {
	SchemaVersion      int
	CreatedAt          time.Time
	AgentCheckpointRefs map[string]string // agent id -> checkpoint id
	OpenMeetings       []string
}

// Provider is the pluggable checkpoint storage contract (spec §4.11).
type Provider interface {
	SaveCheckpoint(ctx context.Context, id string, record Record) error
	LoadCheckpoint(ctx context.Context, id string) (Record, error)
	// ListCheckpoints returns checkpoint ids for agentID, oldest first.
	ListCheckpoints(ctx context.Context, agentID ids.AgentID) ([]string, error)
	DeleteOld(ctx context.Context, agentID ids.AgentID, keepLastN int) error

	SaveProgramCheckpoint(ctx context.Context, record ProgramRecord) error
	LoadProgramCheckpoint(ctx context.Context) (ProgramRecord, error)
}
