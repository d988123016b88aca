package program

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/config"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/llm"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/playbook"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Durability: config.DurabilityConfig{
			Enabled:             true,
			StoragePath:         t.TempDir(),
			MaxCheckpointSizeMB: 8,
			KeepLastN:           5,
		},
	}
}

// humanRecorder wires a channel as a Human agent's sink, for asserting on
// what route_message actually delivered.
func humanRecorder() (func(msg message.Message), chan message.Message) {
	ch := make(chan message.Message, 8)
	return func(msg message.Message) { ch <- msg }, ch
}

func codeClass(name string, pb *playbook.Playbook) *playbook.AgentClass {
	return &playbook.AgentClass{
		Name:      name,
		Type:      playbook.TypeAI,
		Playbooks: map[string]*playbook.Playbook{pb.Name: pb},
	}
}

func humanClass(name string) *playbook.AgentClass {
	return &playbook.AgentClass{
		Name: name,
		Type: playbook.TypeHuman,
		Delivery: playbook.DeliveryPreferences{
			Channel:          playbook.ChannelStreaming,
			StreamingEnabled: true,
		},
	}
}

func TestProgramStartTriggerDeliversToHuman(t *testing.T) {
	greeter := codeClass("Greeter", &playbook.Playbook{
		Name: "Main",
		Kind: playbook.KindCode,
		Body: "s1: EXT Say(\"ops\", \"hi from greeter\")\ns2: RET",
		Triggers: []playbook.TriggerSource{
			{Text: "at program start"},
		},
	})
	ops := humanClass("ops")

	p, err := New(map[string]*playbook.AgentClass{"Greeter": greeter, "ops": ops}, nil, testConfig(t), nil)
	require.NoError(t, err)

	sink, received := humanRecorder()
	require.True(t, p.SetHumanSink(ids.NewAgentID("ops"), sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown(context.Background())

	select {
	case msg := <-received:
		require.Equal(t, "hi from greeter", msg.Content())
	case <-time.After(2 * time.Second):
		t.Fatal("human never received the program-start greeting")
	}
}

func TestAIAgentLoopMatchesTriggerOnIncomingMessage(t *testing.T) {
	echo := codeClass("Echo", &playbook.Playbook{
		Name: "Respond",
		Kind: playbook.KindCode,
		Body: "s1: EXT Say(\"ops\", \"echo: \" + message)\ns2: RET",
		Triggers: []playbook.TriggerSource{
			{Text: "on any message"},
		},
	})
	ops := humanClass("ops")

	p, err := New(map[string]*playbook.AgentClass{"Echo": echo, "ops": ops}, nil, testConfig(t), nil)
	require.NoError(t, err)

	sink, received := humanRecorder()
	require.True(t, p.SetHumanSink(ids.NewAgentID("ops"), sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown(context.Background())

	err = p.RouteMessage(ids.Human(), ids.EntityFromAgent(ids.NewAgentID("Echo")), "hello there", message.TypeDirect, nil, "")
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "echo: hello there", msg.Content())
	case <-time.After(2 * time.Second):
		t.Fatal("triggered playbook never ran")
	}
}

// TestCrossAgentCallBarrierResolves exercises dispatcher.Call's asynchronous
// cross-agent path end to end: Caller's EXT call enqueues a call request on
// Callee's own queue, Callee's aiAgentLoop answers it, and Caller's "YLD
// call" barrier (awaitCallSites) picks up the reply and resumes with the
// bound result.
func TestCrossAgentCallBarrierResolves(t *testing.T) {
	callee := codeClass("Callee", &playbook.Playbook{
		Name:   "Add",
		Kind:   playbook.KindCode,
		Body:   "s1: RET a + b",
		Public: true,
		Params: []playbook.Param{{Name: "a"}, {Name: "b"}},
	})
	caller := codeClass("Caller", &playbook.Playbook{
		Name: "Main",
		Kind: playbook.KindCode,
		Body: "s1: EXT sum = Callee.Add(2, 3)\n" +
			"s2: YLD call\n" +
			"s3: EXT Say(\"ops\", \"sum is \" + sum)\n" +
			"s4: RET sum",
		Triggers: []playbook.TriggerSource{
			{Text: "at program start"},
		},
	})
	ops := humanClass("ops")

	classes := map[string]*playbook.AgentClass{
		"Callee": callee,
		"Caller": caller,
		"ops":    ops,
	}
	p, err := New(classes, nil, testConfig(t), nil)
	require.NoError(t, err)

	sink, received := humanRecorder()
	require.True(t, p.SetHumanSink(ids.NewAgentID("ops"), sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown(context.Background())

	select {
	case msg := <-received:
		require.Equal(t, "sum is 5", msg.Content())
	case <-time.After(2 * time.Second):
		t.Fatal("cross-agent call never resolved")
	}
}

// fakeLLMProvider scripts a fixed sequence of directive lines as a single
// streamed completion, for exercising runMarkdownFrame without a real model.
type fakeLLMProvider struct {
	lines []string
}

func (f *fakeLLMProvider) GenerateStreaming(ctx context.Context, model, prompt string) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, len(f.lines)+1)
	for _, l := range f.lines {
		ch <- llm.Chunk{Text: l + "\n"}
	}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func TestMarkdownPlaybookDrivenByStreamingProvider(t *testing.T) {
	narrator := &playbook.AgentClass{
		Name: "Narrator",
		Type: playbook.TypeAI,
		Playbooks: map[string]*playbook.Playbook{
			"Main": {
				Name: "Main",
				Kind: playbook.KindMarkdown,
				Triggers: []playbook.TriggerSource{
					{Text: "at program start"},
				},
			},
		},
	}
	ops := humanClass("ops")

	provider := &fakeLLMProvider{lines: []string{
		`s1: EXT Say("ops", "narrated hello")`,
		`s2: RET`,
	}}

	p, err := New(map[string]*playbook.AgentClass{"Narrator": narrator, "ops": ops}, provider, testConfig(t), nil)
	require.NoError(t, err)

	sink, received := humanRecorder()
	require.True(t, p.SetHumanSink(ids.NewAgentID("ops"), sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Shutdown(context.Background())

	select {
	case msg := <-received:
		require.Equal(t, "narrated hello", msg.Content())
	case <-time.After(2 * time.Second):
		t.Fatal("markdown playbook never completed")
	}
}
