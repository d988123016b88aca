package executor

import "github.com/playbooks-run/core/state"

// Environment is the execution namespace an EXE statement runs against:
// frame locals (write-through), state vars, and a tool/peer-agent
// resolver for bare names that aren't locals (spec §4.8).
type Environment struct {
	Frame     *state.CallStackFrame
	State     *state.ExecutionState
	Resolver  NameResolver
}

// NameResolver resolves a bare name that is neither a local nor a state
// var — the tool namespace and peer-agent proxies (spec §4.8: "bare names
// refer to frame locals first, then tool namespace").
type NameResolver interface {
	Resolve(name string) (Value, bool)
}

// NewEnvironment builds an Environment over a frame + execution state.
func NewEnvironment(frame *state.CallStackFrame, st *state.ExecutionState, resolver NameResolver) *Environment {
	return &Environment{Frame: frame, State: st, Resolver: resolver}
}

// GetLocal resolves a bare name: frame locals first, then the
// resolver/tool namespace. State vars are not consulted here; they are
// read through GetState with the $ prefix.
func (e *Environment) GetLocal(name string) (Value, bool) {
	if v, ok := e.Frame.Locals[name]; ok {
		return FromNative(v), true
	}
	if e.Resolver != nil {
		return e.Resolver.Resolve(name)
	}
	return Nil(), false
}

// SetLocal writes a binding through to the frame's locals immediately —
// the local-capture invariant (spec §4.8, §8): every assignment must be
// visible in frame.Locals before the next statement begins.
func (e *Environment) SetLocal(name string, v Value) {
	e.Frame.LocalsUpdate(map[string]any{name: v.ToNative()})
}

// GetState resolves a `$`-prefixed state var.
func (e *Environment) GetState(name string) (Value, bool) {
	v, ok := e.State.GetStateVar(name)
	if !ok {
		return Nil(), false
	}
	return FromNative(v), true
}

// SetState writes a `$`-prefixed state var.
func (e *Environment) SetState(name string, v Value) {
	e.State.SetStateVar(name, v.ToNative())
}
