// Package executor is the streaming embedded-code executor (spec §4.8,
// §9, C8): it consumes an LLM completion incrementally, classifies each
// complete statement as a directive or code fragment, executes it against
// the current call-stack frame, and yields control at suspension points.
//
// Grounded on hector's agent.execute() goroutine+channel main loop
// (agent/agent.go) and the iterative state-machine idiom of
// reasoning/chain_of_thought.go, adapted from "call an LLM repeatedly
// until ShouldStop" to "execute directives as they stream, suspend on
// YLD".
package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/playbooks-run/core/ids"
)

// Kind tags the variant held by a Value (design note §9: "a value sum
// type covering number/string/sequence/mapping/callable-ref/agent-ref").
type Kind int

const (
	KindNil Kind = iota
	KindNumber
	KindString
	KindBool
	KindSequence
	KindMapping
	KindCallableRef
	KindAgentRef
)

// Value is the runtime value produced by the embedded mini-language.
type Value struct {
	Kind  Kind
	Num   float64
	Str   string
	Bool  bool
	Seq   []Value
	Map   map[string]Value
	Ref   string
	Agent ids.AgentID
}

func Nil() Value                 { return Value{Kind: KindNil} }
func Num(n float64) Value        { return Value{Kind: KindNumber, Num: n} }
func Str(s string) Value         { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Seq(v []Value) Value        { return Value{Kind: KindSequence, Seq: v} }
func Mapping(m map[string]Value) Value { return Value{Kind: KindMapping, Map: m} }
func CallableRef(name string) Value    { return Value{Kind: KindCallableRef, Ref: name} }
func AgentRef(id ids.AgentID) Value    { return Value{Kind: KindAgentRef, Agent: id} }

// Truthy implements the mini-language's boolean coercion rule used by CND.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	case KindSequence:
		return len(v.Seq) > 0
	case KindMapping:
		return len(v.Map) > 0
	default:
		return true
	}
}

// ToNative converts a Value to the plain Go value stored in frame.Locals /
// state vars, so the rest of the runtime (prompt rendering, checkpoint
// serialization) never has to know about the mini-language's Value type.
func (v Value) ToNative() any {
	switch v.Kind {
	case KindNil:
		return nil
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindSequence:
		out := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			out[i] = e.ToNative()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.ToNative()
		}
		return out
	case KindCallableRef:
		return v.Ref
	case KindAgentRef:
		return v.Agent.Render()
	default:
		return nil
	}
}

// FromNative lifts a plain Go value (e.g. a tool result, or a bound
// parameter) into a Value.
func FromNative(v any) Value {
	switch val := v.(type) {
	case nil:
		return Nil()
	case Value:
		return val
	case string:
		return Str(val)
	case bool:
		return Bool(val)
	case float64:
		return Num(val)
	case int:
		return Num(float64(val))
	case int64:
		return Num(float64(val))
	case []any:
		seq := make([]Value, len(val))
		for i, e := range val {
			seq[i] = FromNative(e)
		}
		return Seq(seq)
	case []Value:
		return Seq(val)
	case map[string]any:
		m := make(map[string]Value, len(val))
		for k, e := range val {
			m[k] = FromNative(e)
		}
		return Mapping(m)
	case ids.AgentID:
		return AgentRef(val)
	default:
		return Str(fmt.Sprintf("%v", val))
	}
}

// String renders a Value for session-log / prompt display: literals
// inline, complex values as typed placeholders (spec §4.7 context-prefix
// rules, reused here for tool-call argument logging).
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "null"
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindCallableRef:
		return v.Ref
	case KindAgentRef:
		return v.Agent.Render()
	case KindSequence:
		parts := make([]string, len(v.Seq))
		for i, e := range v.Seq {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping:
		return fmt.Sprintf("<mapping:%d entries>", len(v.Map))
	default:
		return "<value>"
	}
}
