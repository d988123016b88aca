// Package state implements the per-agent call stack and execution state
// (spec §4.5, C5): frames with an instruction pointer and captured locals,
// plus the append-only session log fed back into subsequent interpreter
// turns.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/perr"
)

// LogEntryType enumerates session log entry kinds (spec §4.5).
type LogEntryType string

const (
	LogAssistantOutput LogEntryType = "assistant_output"
	LogToolCall        LogEntryType = "tool_call"
	LogToolResult      LogEntryType = "tool_result"
	LogIncomingMessage LogEntryType = "incoming_message"
	LogStateChange     LogEntryType = "state_change"
	LogSystemEvent     LogEntryType = "system_event"
)

// LogEntry is one timestamped, typed session log record.
type LogEntry struct {
	Type      LogEntryType
	Content   string
	Data      map[string]any
	Timestamp time.Time
}

// ReturnChannel lets a suspended caller frame be resumed with a return
// value once the callee frame pops.
type ReturnChannel chan any

// CallStackFrame is one playbook invocation's activation record.
type CallStackFrame struct {
	PlaybookName string
	IP           string // instruction pointer: the current step label
	Locals       map[string]any
	Return       ReturnChannel
}

// NewFrame creates a frame with bound parameters as its initial locals.
func NewFrame(playbookName string, boundParams map[string]any) *CallStackFrame {
	locals := make(map[string]any, len(boundParams))
	for k, v := range boundParams {
		locals[k] = v
	}
	return &CallStackFrame{PlaybookName: playbookName, Locals: locals}
}

// SetIP updates the frame's instruction pointer to the given step label.
func (f *CallStackFrame) SetIP(label string) { f.IP = label }

// LocalsUpdate merges bindings into the frame's locals (local-capture
// invariant: every variable assigned during execution must appear here
// before the next statement begins).
func (f *CallStackFrame) LocalsUpdate(bindings map[string]any) {
	for k, v := range bindings {
		f.Locals[k] = v
	}
}

// ExecutionState holds one AI agent's full runtime state (spec §3).
type ExecutionState struct {
	mu              sync.Mutex
	AgentID         ids.AgentID
	CallStack       []*CallStackFrame
	StateVars       map[string]any // `$`-prefixed globals
	SessionLog      []LogEntry
	CurrentMeeting  *ids.MeetingID
}

// New creates an empty ExecutionState for an agent.
func New(agentID ids.AgentID) *ExecutionState {
	return &ExecutionState{
		AgentID:   agentID,
		StateVars: make(map[string]any),
	}
}

// Push adds a new frame to the top of the call stack.
func (s *ExecutionState) Push(frame *CallStackFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallStack = append(s.CallStack, frame)
}

// Pop removes and returns the top frame. Fails with KindFatal if the stack
// is empty (the stack is never empty during active execution; popping the
// last frame ends the playbook invocation, but pop only operates on a
// stack that has at least one frame).
func (s *ExecutionState) Pop() (*CallStackFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.CallStack)
	if n == 0 {
		return nil, perr.New(perr.KindFatal, "state", "Pop", "call stack is empty", nil)
	}
	frame := s.CallStack[n-1]
	s.CallStack = s.CallStack[:n-1]
	return frame, nil
}

// Peek returns the top frame without removing it, and whether the stack is
// non-empty.
func (s *ExecutionState) Peek() (*CallStackFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.CallStack)
	if n == 0 {
		return nil, false
	}
	return s.CallStack[n-1], true
}

// Depth reports the number of active frames.
func (s *ExecutionState) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CallStack)
}

// SetStateVar sets a `$`-prefixed global.
func (s *ExecutionState) SetStateVar(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateVars[name] = value
}

// GetStateVar reads a `$`-prefixed global.
func (s *ExecutionState) GetStateVar(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.StateVars[name]
	return v, ok
}

// AddSessionEntry appends a timestamped log entry.
func (s *ExecutionState) AddSessionEntry(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SessionLog = append(s.SessionLog, entry)
}

// RecentLog returns the last n session log entries (or all of them, if
// there are fewer than n).
func (s *ExecutionState) RecentLog(n int) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n >= len(s.SessionLog) {
		out := make([]LogEntry, len(s.SessionLog))
		copy(out, s.SessionLog)
		return out
	}
	out := make([]LogEntry, n)
	copy(out, s.SessionLog[len(s.SessionLog)-n:])
	return out
}

// SetCurrentMeeting records the meeting the agent is currently attending.
func (s *ExecutionState) SetCurrentMeeting(m *ids.MeetingID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentMeeting = m
}

func (f *CallStackFrame) String() string {
	return fmt.Sprintf("%s@%s", f.PlaybookName, f.IP)
}

// FrameSnapshot is the serializable projection of a CallStackFrame: the
// Return channel is transient per-process wiring and is never persisted
// (spec §6 checkpoint record: "namespace (serializable locals only)").
type FrameSnapshot struct {
	PlaybookName string
	IP           string
	Locals       map[string]any
}

// Snapshot is the serializable projection of an ExecutionState, the shape
// a checkpoint provider (C11) persists.
type Snapshot struct {
	CallStack      []FrameSnapshot
	StateVars      map[string]any
	SessionLog     []LogEntry
	CurrentMeeting *ids.MeetingID
}

// Snapshot captures the current state under lock.
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]FrameSnapshot, len(s.CallStack))
	for i, f := range s.CallStack {
		locals := make(map[string]any, len(f.Locals))
		for k, v := range f.Locals {
			locals[k] = v
		}
		frames[i] = FrameSnapshot{PlaybookName: f.PlaybookName, IP: f.IP, Locals: locals}
	}
	stateVars := make(map[string]any, len(s.StateVars))
	for k, v := range s.StateVars {
		stateVars[k] = v
	}
	log := make([]LogEntry, len(s.SessionLog))
	copy(log, s.SessionLog)

	return Snapshot{CallStack: frames, StateVars: stateVars, SessionLog: log, CurrentMeeting: s.CurrentMeeting}
}

// Restore rebuilds an ExecutionState from a Snapshot (C11 resume path).
// Restored frames have no Return channel: any Go caller synchronously
// blocked on one belonged to the process that crashed and cannot be
// reconnected; resumed recursion re-establishes its own channel on replay.
func Restore(agentID ids.AgentID, snap Snapshot) *ExecutionState {
	st := New(agentID)
	for _, f := range snap.CallStack {
		locals := make(map[string]any, len(f.Locals))
		for k, v := range f.Locals {
			locals[k] = v
		}
		st.CallStack = append(st.CallStack, &CallStackFrame{PlaybookName: f.PlaybookName, IP: f.IP, Locals: locals})
	}
	for k, v := range snap.StateVars {
		st.StateVars[k] = v
	}
	st.SessionLog = append(st.SessionLog, snap.SessionLog...)
	st.CurrentMeeting = snap.CurrentMeeting
	return st
}
