// Command playbooks is the CLI surface named in spec §6: an external
// collaborator over the core runtime, thin by design — it parses one
// playbook source file, loads configuration, wires stdout as every
// declared Human agent's delivery sink, and runs the program until
// interrupted.
//
// Usage:
//
//	playbooks run agents.md
//	playbooks run agents.md --resume --stream
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/playbooks-run/core/perr"
)

// CLI is the top-level command tree.
type CLI struct {
	Run RunCmd `cmd:"" help:"Parse a playbook source file and run it."`

	Config   string `short:"c" help:"Path to a YAML config file (spec §6 keys)." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("playbooks"),
		kong.Description("Playbooks — a multi-agent cooperative runtime"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the exit status spec §6 names: 0 normal,
// 1 runtime error, 2 parse error, 3 recovery error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "playbooks:", err)
	switch kind, ok := perr.Of(err); {
	case ok && kind == perr.KindParseError:
		return 2
	case ok && kind == perr.KindRecoveryFailed:
		return 3
	default:
		return 1
	}
}
