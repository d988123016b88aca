package executor

import "github.com/playbooks-run/core/ids"

// Status is the per-interpreter-invocation state machine (spec §4.8):
// idle -> streaming -> awaiting-suspend -> suspended -> resumed ->
// streaming | completed | failed.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusStreaming       Status = "streaming"
	StatusAwaitingSuspend Status = "awaiting_suspend"
	StatusSuspended       Status = "suspended"
	StatusResumed         Status = "resumed"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// SuspendKind is the reason the executor handed control back to the
// per-agent loop (spec §4.8 YLD kinds).
type SuspendKind string

const (
	SuspendUser    SuspendKind = "user"
	SuspendAgent   SuspendKind = "agent"
	SuspendMeeting SuspendKind = "meeting"
	SuspendCall    SuspendKind = "call"
	SuspendTimeout SuspendKind = "timeout"
)

// Suspension describes what the caller (the per-agent loop, C10) must
// wait for before calling Resume.
type Suspension struct {
	Kind           SuspendKind
	TargetAgent    ids.AgentID // for SuspendAgent
	TimeoutSeconds float64     // for SuspendTimeout
	BindName       string      // local name the resumed value binds to
	CallSites      []string    // outstanding EXT call sites awaited by SuspendCall (barrier, spec §4.8)
}

// Outcome is returned by Feed/Close once the executor cannot make further
// progress without external input, or has finished.
type Outcome struct {
	Status     Status
	Suspension *Suspension // set when Status == StatusSuspended
	ReturnValue Value      // set when Status == StatusCompleted and the top playbook returned
	Err        error       // set when Status == StatusFailed
}
