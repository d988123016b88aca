// Package llm defines the minimal streaming-completion boundary the
// interpreter loop (program package, C10) drives against. Concrete LLM
// provider bindings (Anthropic/OpenAI/Ollama wire clients, response
// caching) are an external collaborator outside this runtime's scope
// (spec §1); this package only names the interface shape a binding must
// satisfy, trimmed from hector's llms.LLMProvider (llms/registry.go).
package llm

import "context"

// Chunk is one piece of a streaming completion.
type Chunk struct {
	Text  string
	Done  bool
	Err   error
}

// Provider streams a completion for prompt, one chunk at a time, closing
// the channel when the completion ends (Done chunk or Err). Cancelling ctx
// must stop the stream and close the channel.
type Provider interface {
	GenerateStreaming(ctx context.Context, model, prompt string) (<-chan Chunk, error)
}
