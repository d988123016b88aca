package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/playbooks-run/core/channel"
	"github.com/playbooks-run/core/config"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/llm"
	"github.com/playbooks-run/core/logging"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/metrics"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/program"
)

// RunCmd parses one playbook source file and runs it until interrupted
// (spec §6: "run <source> [--resume] [--stream]").
type RunCmd struct {
	Source string `arg:"" help:"Path to a playbook markdown source file." type:"existingfile"`
	Resume bool   `help:"Resume from the latest on-disk checkpoint, if any."`
	Stream bool   `help:"Echo stream chunks live instead of waiting for each turn to finish."`
}

func (c *RunCmd) Run(cli *CLI) error {
	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		level = 0
	}
	logging.Init(level, os.Stderr)

	// A bare sdktrace.TracerProvider, no exporter attached: checkpoint/coordinator.go's
	// and executor/tracing.go's spans (C11/C8) still carry real trace/span
	// ids into checkpoint records even though nothing ships them off-box in
	// this build — wiring an OTLP exporter is out of scope (spec §1).
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	src, err := os.ReadFile(c.Source)
	if err != nil {
		return perr.New(perr.KindParseError, "cli", "Run", "reading "+c.Source, err)
	}

	ast, err := playbook.Parse(string(src))
	if err != nil {
		return perr.New(perr.KindParseError, "cli", "Run", "parsing "+c.Source, err)
	}
	classes, err := playbook.BuildClasses(ast)
	if err != nil {
		return perr.New(perr.KindParseError, "cli", "Run", "building agent classes from "+c.Source, err)
	}

	if cfg.Durability.Enabled && !c.Resume {
		slog.Info("cli: --resume not set; an existing checkpoint, if any, will still be picked up automatically", "storage_path", cfg.Durability.StoragePath)
	}

	m := metrics.New(false)
	p, err := program.New(classes, noLLMProvider{}, cfg, m)
	if err != nil {
		return err
	}

	for name, class := range classes {
		if class.Type != playbook.TypeHuman {
			continue
		}
		p.SetHumanSink(ids.NewAgentID(name), stdoutSink(name))
	}
	if c.Stream {
		p.AddStreamObserver(stdoutStreamObserver{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("cli: shutting down")
		cancel()
	}()

	if err := p.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "playbooks: running %d agent class(es) from %s — Ctrl+C to stop\n", len(classes), c.Source)

	<-ctx.Done()
	return p.Shutdown(context.Background())
}

// stdoutSink renders a delivered Message the way a terminal chat client
// would: "sender -> humanName: content".
func stdoutSink(humanName string) func(msg message.Message) {
	return func(msg message.Message) {
		fmt.Printf("%s -> %s: %s\n", msg.SenderID().String(), humanName, msg.Content())
	}
}

// stdoutStreamObserver prints chunks as they arrive when --stream is set,
// unscoped (it watches every stream, not just one human's).
type stdoutStreamObserver struct{}

func (stdoutStreamObserver) TargetHumanID() (ids.AgentID, bool) { return ids.AgentID{}, false }

func (stdoutStreamObserver) OnStreamStart(s channel.StreamStart) {
	fmt.Printf("[%s streaming] ", s.SenderID.String())
}

func (stdoutStreamObserver) OnStreamChunk(c channel.StreamChunk) {
	fmt.Print(c.Chunk)
}

func (stdoutStreamObserver) OnStreamComplete(c channel.StreamComplete) {
	if c.Cancelled {
		fmt.Print(" [cancelled]")
	}
	fmt.Println()
}

// noLLMProvider is the default llm.Provider binding: concrete LLM wire
// clients (Anthropic/OpenAI/Ollama, response caching) are an external
// collaborator outside this runtime's scope (spec §1, see llm/provider.go)
// — a program built entirely from embedded-code playbooks never calls
// GenerateStreaming at all, so this only surfaces when a markdown
// playbook actually needs a completion and none was wired in.
type noLLMProvider struct{}

func (noLLMProvider) GenerateStreaming(ctx context.Context, model, prompt string) (<-chan llm.Chunk, error) {
	return nil, perr.New(perr.KindFatal, "cli", "GenerateStreaming", "no LLM provider configured — this build only wires embedded-code playbooks", nil)
}
