package ai

import (
	"context"
	"encoding/json"
	"sync"
)

// StaticResponse is one scripted generation outcome
type StaticResponse struct {
	Content json.RawMessage
	Err     error
}

// StaticGenerator returns scripted responses in order, repeating the final
// one once the script is exhausted. It records every prompt it receives.
// Used in tests and in dry-run mode where no API key is available.
type StaticGenerator struct {
	mu        sync.Mutex
	responses []StaticResponse
	next      int
	prompts   []string
}

// NewStaticGenerator creates a generator that replays the given responses
func NewStaticGenerator(responses ...StaticResponse) *StaticGenerator {
	return &StaticGenerator{responses: responses}
}

// Generate returns the next scripted response
func (g *StaticGenerator) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)

	if len(g.responses) == 0 {
		return json.RawMessage(`{}`), nil
	}
	resp := g.responses[g.next]
	if g.next < len(g.responses)-1 {
		g.next++
	}
	return resp.Content, resp.Err
}

// Prompts returns a copy of every prompt received so far
func (g *StaticGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// Calls returns how many times Generate has been invoked
func (g *StaticGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
