// Package hector implements Playbooks, a runtime for cooperative multi-agent
// systems defined as markdown "playbooks": declarative agent classes whose
// behavior is driven by an embedded-code interpreter instead of a fixed
// reasoning loop.
//
// # Quick Start
//
// Run a playbook source file:
//
//	playbooks run agents.md
//
// A playbook source declares one or more agent classes (AI, Human, or
// Remote), each with triggers, playbooks (named procedures mixing markdown
// prose and embedded directives), and parameters. The interpreter executes
// an agent's matched playbook as a stream of directives — EXE, EXT, YLD,
// CND, RET — against a persistent per-agent call stack, suspending and
// resuming across asynchronous calls and checkpointing state for recovery.
//
// # Using as a Go Library
//
// Import the runtime package to embed the interpreter in another program:
//
//	import (
//	    "github.com/playbooks-run/core/program"
//	    "github.com/playbooks-run/core/playbook"
//	)
//
// # Architecture
//
//	Source (.md) → playbook.Parse/BuildClasses → program.Program
//	             → per-agent goroutine running the interpreter loop
//	             → channel/message fabric routes traffic between agents
//
// See DESIGN.md for the full package map and the rationale behind each one.
package hector
