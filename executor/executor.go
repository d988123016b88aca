package executor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/metrics"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/state"
)

// DefaultRetryBudget bounds how many off-contract LLM emissions an
// invocation tolerates before escalating to InterpreterStalled (spec §7).
const DefaultRetryBudget = 3

// Dispatcher resolves an EXT call's callee to this or another agent's
// playbook, or a peer-agent proxy (spec §4.8, §4.10). Native playbook
// calls and markdown-playbook recursion that complete within the call are
// returned with awaitable=false; genuinely asynchronous operations (a
// cross-agent call awaiting a reply, a long-running tool) return
// awaitable=true with a callSite identifying the outstanding call for a
// later "YLD call <site>" barrier.
type Dispatcher interface {
	Call(ctx context.Context, agentID ids.AgentID, name string, args []Value) (result Value, awaitable bool, callSite string, err error)
}

type pendingBinding struct {
	target  string
	isState bool
}

// Executor drives one interpreter invocation: incremental parse/execute of
// the directive stream for a single call-stack frame (spec §4.8, C8).
type Executor struct {
	AgentID    ids.AgentID
	Frame      *state.CallStackFrame
	State      *state.ExecutionState
	Env        *Environment
	Tools      *ToolNamespace
	Dispatcher Dispatcher

	// OnCheckpoint is invoked before the executor hands control back at a
	// suspension point (spec §4.11, §8: "for every YLD a checkpoint is
	// persisted before the agent awaits"). Save errors are logged and do
	// not abort execution (best-effort durability, spec §7).
	OnCheckpoint func(ctx context.Context) error

	// Metrics records per-directive outcomes (C8). A nil *Metrics is a
	// valid no-op receiver, so this is safe to leave unset in tests.
	Metrics *metrics.Metrics

	status           Status
	buf              string
	pendingCallSites []string
	pendingBindings  map[string]pendingBinding
	lastSuspension   *Suspension
	invalidCount     int
	retryBudget      int
}

// NewExecutor creates an executor bound to one call-stack frame.
func NewExecutor(agentID ids.AgentID, frame *state.CallStackFrame, st *state.ExecutionState, env *Environment, tools *ToolNamespace, dispatcher Dispatcher) *Executor {
	return &Executor{
		AgentID:         agentID,
		Frame:           frame,
		State:           st,
		Env:             env,
		Tools:           tools,
		Dispatcher:      dispatcher,
		status:          StatusIdle,
		pendingBindings: map[string]pendingBinding{},
		retryBudget:     DefaultRetryBudget,
	}
}

// Status reports the executor's current state-machine position.
func (e *Executor) Status() Status { return e.status }

// Feed consumes one chunk of the LLM completion stream, executing every
// statement that becomes complete (spec §4.8 "incremental parse"). It
// returns a terminal Outcome as soon as one is reached (suspend, complete,
// fail); otherwise Status is StatusStreaming and the caller should feed
// more chunks.
func (e *Executor) Feed(ctx context.Context, chunk string) (*Outcome, error) {
	if e.status == StatusIdle || e.status == StatusResumed {
		e.status = StatusStreaming
	}
	e.buf += chunk

	lines := strings.Split(e.buf, "\n")
	trailing := lines[len(lines)-1]
	complete := lines[:len(lines)-1]

	for i, line := range complete {
		outcome, err := e.execLine(ctx, line)
		if err != nil {
			e.buf = remainder(complete[i+1:], trailing)
			return outcome, err
		}
		if outcome != nil {
			// Preserve lines after the one that suspended/completed/failed
			// this invocation — a resumed Feed/Close call must still see
			// them instead of silently dropping the rest of the batch.
			e.buf = remainder(complete[i+1:], trailing)
			return outcome, nil
		}
	}
	e.buf = trailing
	return &Outcome{Status: e.status}, nil
}

// remainder rejoins not-yet-executed complete lines with the still-partial
// trailing line, in the exact text form Feed expects to receive again.
func remainder(unprocessed []string, trailing string) string {
	if len(unprocessed) == 0 {
		return trailing
	}
	return strings.Join(unprocessed, "\n") + "\n" + trailing
}

// Close flushes any trailing partial line once the LLM completion has
// ended, then returns the final Outcome for this invocation.
func (e *Executor) Close(ctx context.Context) (*Outcome, error) {
	if strings.TrimSpace(e.buf) != "" {
		line := e.buf
		e.buf = ""
		outcome, err := e.execLine(ctx, line)
		if err != nil {
			return outcome, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}
	return &Outcome{Status: e.status}, nil
}

// Resume binds a single resumed value (YLD user/agent/meeting/timeout)
// into the suspension's target local and returns the executor to
// streaming state so Feed can continue with the next LLM completion.
func (e *Executor) Resume(value any) {
	e.status = StatusResumed
	if e.lastSuspension != nil && e.lastSuspension.BindName != "" {
		e.Env.SetLocal(e.lastSuspension.BindName, FromNative(value))
	}
	e.lastSuspension = nil
}

// ResumeCall binds the results of a "YLD call *" barrier, keyed by call
// site, into each call's recorded target (spec §4.8: "results bind
// positionally into frame.locals").
func (e *Executor) ResumeCall(results map[string]any) {
	e.status = StatusResumed
	for site, val := range results {
		b, ok := e.pendingBindings[site]
		if !ok {
			continue
		}
		v := FromNative(val)
		if b.isState {
			e.Env.SetState(b.target, v)
		} else if b.target != "" {
			e.Env.SetLocal(b.target, v)
		}
		delete(e.pendingBindings, site)
	}
	e.lastSuspension = nil
}

// execLine is the directive-dispatch boundary (spec §4.8, C8): it opens
// one span per classified line and records the directive's outcome to
// the C8 counter, then hands off to the per-kind exec* handler.
func (e *Executor) execLine(ctx context.Context, line string) (*Outcome, error) {
	d := Classify(line)

	ctx, span := tracer().Start(ctx, "executor.execLine", trace.WithAttributes(
		attribute.String("directive.kind", string(d.Kind)),
		attribute.String("agent.id", e.AgentID.String()),
	))
	defer span.End()

	outcome, err := e.dispatchDirective(ctx, d)
	if err != nil {
		span.RecordError(err)
	}
	e.Metrics.RecordDirectiveOutcome(string(d.Kind), directiveOutcome(outcome, err))
	return outcome, err
}

func (e *Executor) dispatchDirective(ctx context.Context, d Directive) (*Outcome, error) {
	switch d.Kind {
	case DirLabelOnly:
		e.Frame.SetIP(d.Label)
		return nil, nil
	case DirFreeText:
		if d.Payload != "" {
			e.State.AddSessionEntry(state.LogEntry{Type: state.LogAssistantOutput, Content: d.Payload})
		}
		return nil, nil
	case DirExe:
		e.Frame.SetIP(d.Label)
		return e.execExe(ctx, d)
	case DirCnd:
		e.Frame.SetIP(d.Label)
		e.State.AddSessionEntry(state.LogEntry{Type: state.LogStateChange, Content: "branch: " + d.Payload})
		return nil, nil
	case DirExt:
		e.Frame.SetIP(d.Label)
		return e.execExt(ctx, d)
	case DirYld:
		e.Frame.SetIP(d.Label)
		return e.execYld(ctx, d)
	case DirRet:
		e.Frame.SetIP(d.Label)
		return e.execRet(ctx, d)
	default:
		return nil, nil
	}
}

// directiveOutcome labels a dispatched directive for the C8 outcome
// counter: the error path takes priority, then a terminal/suspended
// Outcome's own status, else "ok" for a directive that simply ran.
func directiveOutcome(outcome *Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case outcome != nil:
		return string(outcome.Status)
	default:
		return "ok"
	}
}

// execExe implements the local-capture invariant: every assignment is
// written through to frame.Locals before the next statement begins (spec
// §4.8, §8).
func (e *Executor) execExe(ctx context.Context, d Directive) (*Outcome, error) {
	assign, err := ParseAssignment(d.Payload)
	if err != nil {
		return e.handleInvalid(d, err)
	}
	val, err := assign.Expr.eval(e.Env)
	if err != nil {
		return e.handleInvalid(d, err)
	}
	if assign.Target != "" {
		if assign.IsState {
			e.Env.SetState(assign.Target, val)
		} else {
			e.Env.SetLocal(assign.Target, val)
		}
	}
	e.State.AddSessionEntry(state.LogEntry{Type: state.LogAssistantOutput, Content: d.Raw})
	return nil, nil
}

func (e *Executor) execExt(ctx context.Context, d Directive) (*Outcome, error) {
	target, isState, callText := splitExtTarget(d.Payload)
	name, argStrs, err := ParseCallNotation(callText)
	if err != nil {
		return e.handleInvalid(d, err)
	}
	args := make([]Value, len(argStrs))
	for i, s := range argStrs {
		v, err := evalExprOnly(s, e.Env)
		if err != nil {
			return e.handleInvalid(d, err)
		}
		args[i] = v
	}
	e.State.AddSessionEntry(state.LogEntry{Type: state.LogToolCall, Content: d.Raw})

	result, awaitable, callSite, err := e.dispatch(ctx, name, args)
	if err != nil {
		return e.bindToolError(target, isState, err), nil
	}
	if awaitable {
		e.pendingCallSites = append(e.pendingCallSites, callSite)
		if target != "" {
			e.pendingBindings[callSite] = pendingBinding{target: target, isState: isState}
		}
		return nil, nil
	}
	e.State.AddSessionEntry(state.LogEntry{Type: state.LogToolResult, Content: result.String()})
	if target != "" {
		if isState {
			e.Env.SetState(target, result)
		} else {
			e.Env.SetLocal(target, result)
		}
	}
	return nil, nil
}

// dispatch tries the locally registered tool namespace before falling
// back to the cross-agent/playbook Dispatcher (spec §4.8: "bare names
// refer to frame locals first, then tool namespace").
func (e *Executor) dispatch(ctx context.Context, name string, args []Value) (Value, bool, string, error) {
	if e.Tools != nil {
		if v, ok, err := e.Tools.Call(ctx, name, args); ok {
			return v, false, "", err
		}
	}
	if e.Dispatcher != nil {
		return e.Dispatcher.Call(ctx, e.AgentID, name, args)
	}
	return Nil(), false, "", perr.New(perr.KindUnknownPlaybook, "executor", "dispatch", name, nil)
}

// bindToolError implements the ToolError policy (spec §7): the error is
// captured as the EXT directive's returned value rather than aborting the
// invocation.
func (e *Executor) bindToolError(target string, isState bool, err error) *Outcome {
	errVal := Mapping(map[string]Value{"error": Str(err.Error())})
	e.State.AddSessionEntry(state.LogEntry{Type: state.LogToolResult, Content: errVal.String(), Data: map[string]any{"error": err.Error()}})
	if target != "" {
		if isState {
			e.Env.SetState(target, errVal)
		} else {
			e.Env.SetLocal(target, errVal)
		}
	}
	return nil
}

func (e *Executor) execYld(ctx context.Context, d Directive) (*Outcome, error) {
	kind, rest := splitFirstWord(d.Payload)
	switch kind {
	case "user":
		return e.suspend(ctx, Suspension{Kind: SuspendUser, BindName: defaultBind(rest, "message")})
	case "agent":
		idStr, bind := splitFirstWord(rest)
		agentID, err := ids.ParseAgentID(idStr)
		if err != nil {
			return e.handleInvalid(d, err)
		}
		return e.suspend(ctx, Suspension{Kind: SuspendAgent, TargetAgent: agentID, BindName: defaultBind(bind, "message")})
	case "meeting":
		return e.suspend(ctx, Suspension{Kind: SuspendMeeting, BindName: defaultBind(rest, "message")})
	case "call":
		sites := e.pendingCallSites
		e.pendingCallSites = nil
		return e.suspend(ctx, Suspension{Kind: SuspendCall, CallSites: sites})
	case "timeout":
		secStr, bind := splitFirstWord(rest)
		sec, err := strconv.ParseFloat(secStr, 64)
		if err != nil {
			return e.handleInvalid(d, err)
		}
		return e.suspend(ctx, Suspension{Kind: SuspendTimeout, TimeoutSeconds: sec, BindName: defaultBind(bind, "")})
	default:
		return e.handleInvalid(d, perr.New(perr.KindLLMOutputInvalid, "executor", "execYld", "unknown YLD kind: "+kind, nil))
	}
}

func (e *Executor) suspend(ctx context.Context, s Suspension) (*Outcome, error) {
	e.status = StatusAwaitingSuspend
	if e.OnCheckpoint != nil {
		if err := e.OnCheckpoint(ctx); err != nil {
			slog.Warn("executor: checkpoint save failed, continuing uncheckpointed", "agent", e.AgentID.String(), "error", err)
		}
	}
	e.status = StatusSuspended
	e.lastSuspension = &s
	return &Outcome{Status: StatusSuspended, Suspension: &s}, nil
}

func (e *Executor) execRet(ctx context.Context, d Directive) (*Outcome, error) {
	val := Nil()
	if d.Payload != "" {
		v, err := evalExprOnly(d.Payload, e.Env)
		if err != nil {
			return e.handleInvalid(d, err)
		}
		val = v
	}
	frame, err := e.State.Pop()
	if err != nil {
		e.status = StatusFailed
		return &Outcome{Status: StatusFailed, Err: err}, err
	}
	if frame.Return != nil {
		select {
		case frame.Return <- val.ToNative():
		default:
		}
	}
	e.status = StatusCompleted
	return &Outcome{Status: StatusCompleted, ReturnValue: val}, nil
}

// handleInvalid implements the LLMOutputInvalid policy (spec §7): skip the
// offending statement, record a correction note, and keep streaming —
// unless the per-invocation retry budget is exhausted, in which case the
// invocation escalates to InterpreterStalled.
func (e *Executor) handleInvalid(d Directive, cause error) (*Outcome, error) {
	e.invalidCount++
	e.State.AddSessionEntry(state.LogEntry{
		Type:    state.LogSystemEvent,
		Content: "rejected off-contract emission: " + cause.Error(),
		Data:    map[string]any{"raw": d.Raw},
	})
	if e.invalidCount > e.retryBudget {
		stalled := perr.New(perr.KindInterpreterStalled, "executor", "handleInvalid", "exceeded retry budget", cause)
		e.status = StatusFailed
		return &Outcome{Status: StatusFailed, Err: stalled}, stalled
	}
	return nil, nil
}
