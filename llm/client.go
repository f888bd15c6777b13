package llm

import "context"

// Prompt ist ein einzelner Chat-Completion-Aufruf.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client abstrahiert den LLM-Zugriff, damit Drafter und Judge getrennte
// Modelle nutzen können und Tests ohne externe Aufrufe auskommen.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Settings sind die Basis-Konfiguration für eine konkrete Implementierung.
type Settings struct {
	BaseURL string
	APIKey  string
	Model   string
}
