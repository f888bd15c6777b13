package providers

import "context"

// SourceSnippet ist ein einzelnes Suchergebnis eines Providers.
type SourceSnippet struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SourceMaterial bündelt das Quellenmaterial einer Themen-Suche.
type SourceMaterial struct {
	Topic    string          `json:"topic"`
	Snippets []SourceSnippet `json:"snippets"`
}

// Context fügt die Snippet-Inhalte zu einem Prompt-Kontext zusammen.
func (m SourceMaterial) Context() string {
	var out string
	for i, s := range m.Snippets {
		if i > 0 {
			out += "\n\n"
		}
		out += s.Content
	}
	return out
}

// SearchProvider ist das Interface, das jeder Such-Provider implementieren muss.
type SearchProvider interface {
	// Search holt Quellenmaterial für ein Thema. Ein leeres Ergebnis ist ein Fehler,
	// Retries liegen beim Aufrufer.
	Search(ctx context.Context, topic string) (SourceMaterial, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "tavily").
	Name() string
}
