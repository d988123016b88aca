package prompt

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/playbooks-run/core/state"
)

// TokenBudget counts tokens for a model and trims a session-log window to
// fit within a budget, most-recent entries first (grounded on hector's
// pkg/utils.TokenCounter).
type TokenBudget struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	encodingCache = map[string]*tiktoken.Tiktoken{}
	cacheMu       sync.RWMutex
)

// NewTokenBudget returns a budget counter for the given model, falling back
// to cl100k_base when the model is unrecognized by tiktoken.
func NewTokenBudget(model string) (*TokenBudget, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &TokenBudget{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("prompt: failed to load token encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = enc
	cacheMu.Unlock()
	return &TokenBudget{encoding: enc}, nil
}

// Count returns the token count of text.
func (b *TokenBudget) Count(text string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.encoding.Encode(text, nil, nil))
}

// FitLogWindow selects the most recent session log entries whose rendered
// text fits within maxTokens, working backwards from the end of the log
// (spec §4.7: "recent session log window").
func (b *TokenBudget) FitLogWindow(entries []state.LogEntry, maxTokens int) []state.LogEntry {
	if len(entries) == 0 || maxTokens <= 0 {
		return nil
	}
	fitted := make([]state.LogEntry, 0, len(entries))
	used := 0
	for i := len(entries) - 1; i >= 0; i-- {
		rendered := renderLogEntry(entries[i])
		n := b.Count(rendered)
		if used+n > maxTokens {
			break
		}
		fitted = append([]state.LogEntry{entries[i]}, fitted...)
		used += n
	}
	return fitted
}
