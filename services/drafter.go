package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"flowy-newsletter/llm"
	"flowy-newsletter/providers"
)

// DraftCandidate ist ein frisch erzeugter Artikel-Entwurf. Kandidaten werden
// nie mutiert: jeder Versuch erzeugt einen neuen.
type DraftCandidate struct {
	Topic      string
	Title      string
	Content    string
	Vocabulary []string
}

// Drafter erzeugt einen Kandidaten aus Thema und Quellenmaterial. feedback ist
// bei Wiederholungsversuchen der Verbesserungshinweis aus der letzten Bewertung.
type Drafter interface {
	Draft(ctx context.Context, topic string, material providers.SourceMaterial, feedback string) (DraftCandidate, error)
}

var (
	titleRegex = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	vocabRegex = regexp.MustCompile(`^[-*]\s*(.+?)\s*:\s*.+$`)
)

// LLMDrafter implementiert Drafter über einen Chat-Completion-Client.
type LLMDrafter struct {
	llm    llm.Client
	logger *zap.Logger
}

// NewLLMDrafter erstellt einen neuen Drafter.
func NewLLMDrafter(client llm.Client, logger *zap.Logger) *LLMDrafter {
	return &LLMDrafter{llm: client, logger: logger}
}

// Draft generiert Artikeltext und Vokabelliste. Leerer Titel oder Inhalt
// werden als ErrDraftFailed gemeldet.
func (d *LLMDrafter) Draft(ctx context.Context, topic string, material providers.SourceMaterial, feedback string) (DraftCandidate, error) {
	log := d.logger.With(zap.String("topic", topic))
	log.Info("Generiere Artikel-Entwurf.")

	raw, err := d.llm.Complete(ctx, llm.Prompt{
		System:      "You are a professional writing assistant.",
		User:        buildArticlePrompt(topic, material.Context(), feedback),
		Temperature: 0.7,
		MaxTokens:   1200,
	})
	if err != nil {
		return DraftCandidate{}, fmt.Errorf("%w: %v", ErrDraftFailed, err)
	}

	title, content := splitTitle(raw)
	if title == "" {
		title = topic
	}
	if strings.TrimSpace(content) == "" {
		return DraftCandidate{}, fmt.Errorf("%w: model returned empty article", ErrDraftFailed)
	}

	candidate := DraftCandidate{
		Topic:   topic,
		Title:   title,
		Content: strings.TrimSpace(content),
	}

	// Vokabelliste ist optional: ein Fehler hier verwirft den Entwurf nicht.
	vocabRaw, err := d.llm.Complete(ctx, llm.Prompt{
		System:      "You are a professional writing assistant.",
		User:        buildVocabPrompt(candidate.Content),
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if err != nil {
		log.Warn("Vokabel-Extraktion fehlgeschlagen", zap.Error(err))
	} else {
		candidate.Vocabulary = ParseVocabulary(vocabRaw)
	}

	log.Info("Entwurf erstellt",
		zap.Int("words", len(strings.Fields(candidate.Content))),
		zap.Int("vocabulary_terms", len(candidate.Vocabulary)))
	return candidate, nil
}

func buildArticlePrompt(topic, context, feedback string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Write a professional English article (300-400 words) about %q.\n", topic))
	sb.WriteString("Use the following context as background material:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nRequirements:\n")
	sb.WriteString("- Start with a single markdown H1 line (\"# <title>\") as the article title.\n")
	sb.WriteString("- Tone: formal, factual, and educational (not promotional or opinion-based).\n")
	sb.WriteString("- Structure: 3-4 paragraphs with a clear introduction, body, and conclusion, separated by blank lines.\n")
	sb.WriteString("- Style: clear, fluent, and vocabulary-rich (C1 level English).\n")
	sb.WriteString("- Include domain-specific terminology naturally in the text.\n")
	sb.WriteString("- Avoid repetition or generic filler phrases.\n")
	sb.WriteString("- Ensure ALL facts are accurate and verifiable.\n")
	sb.WriteString("- Stay strictly focused on the topic.\n")
	if feedback != "" {
		sb.WriteString("\nIMPROVEMENT NEEDED:\n")
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}
	return sb.String()
}

func buildVocabPrompt(article string) string {
	var sb strings.Builder
	sb.WriteString("Extract 8-12 key vocabulary terms from the following article and provide a clear, concise definition for each term based on how it's used in the article context.\n")
	sb.WriteString("Focus on domain-specific and useful terminology.\n\n")
	sb.WriteString("Format EXACTLY as follows (term: definition):\n")
	sb.WriteString("- Term 1: Definition of term 1 in the context of this article\n")
	sb.WriteString("- Term 2: Definition of term 2 in the context of this article\n\n")
	sb.WriteString("Requirements:\n")
	sb.WriteString("- Each term MUST have a definition after the colon\n")
	sb.WriteString("- Use bullet points with dashes (-)\n\n")
	sb.WriteString("Article:\n")
	sb.WriteString(article)
	return sb.String()
}

// splitTitle trennt die H1-Zeile vom restlichen Artikeltext.
func splitTitle(md string) (string, string) {
	md = strings.TrimSpace(md)
	m := titleRegex.FindStringSubmatchIndex(md)
	if m == nil {
		return "", md
	}
	title := strings.TrimSpace(md[m[2]:m[3]])
	content := strings.TrimSpace(md[:m[0]] + md[m[1]:])
	return title, content
}

// ParseVocabulary extrahiert die Begriffe aus "- Term: Definition"-Zeilen.
// Duplikate werden entfernt, die Reihenfolge bleibt erhalten.
func ParseVocabulary(raw string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(raw, "\n") {
		m := vocabRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		term := strings.TrimSpace(strings.Trim(m[1], "*_`"))
		if term == "" || seen[strings.ToLower(term)] {
			continue
		}
		seen[strings.ToLower(term)] = true
		terms = append(terms, term)
	}
	return terms
}
