// Package perr provides the typed, component-tagged error kinds used across
// the playbooks runtime, generalizing the team.TeamError pattern to the
// error kinds spec §7 names.
package perr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the error classes from spec §7.
type Kind string

const (
	KindParseError         Kind = "ParseError"
	KindMalformedSpec      Kind = "MalformedSpec"
	KindUnknownAgent       Kind = "UnknownAgent"
	KindUnknownPlaybook    Kind = "UnknownPlaybook"
	KindLLMOutputInvalid   Kind = "LLMOutputInvalid"
	KindInterpreterStalled Kind = "InterpreterStalled"
	KindToolError          Kind = "ToolError"
	KindTimeout            Kind = "Timeout"
	KindCancelled          Kind = "Cancelled"
	KindMeetingClosed      Kind = "MeetingClosed"
	KindCheckpointTooLarge Kind = "CheckpointTooLarge"
	KindRecoveryFailed     Kind = "RecoveryFailed"
	KindFatal              Kind = "Fatal"
	KindQueueClosed        Kind = "QueueClosed"
	KindUnknownAgentType   Kind = "UnknownAgentType"
	KindDuplicateAgent     Kind = "DuplicateAgentName"
	KindInvalidMetadata    Kind = "InvalidMetadata"
	KindTriggerParseError  Kind = "TriggerParseError"
)

// Error is the component-tagged error value every package returns.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Err       error
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: K}) comparisons by Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an Error with the current timestamp.
func New(kind Kind, component, op, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Op:        op,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Of reports the Kind of err, if err is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
