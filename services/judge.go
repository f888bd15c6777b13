package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"flowy-newsletter/llm"
)

// Bekannte Subscore-Kriterien des Judge. Unbekannte Schlüssel werden
// durchgereicht, gehen aber nie in die Accept/Reject-Entscheidung ein.
const (
	CriterionUsefulness = "usefulness"
	CriterionFactuality = "factuality"
	CriterionRelevance  = "relevance"
	CriterionTone       = "tone"
	CriterionStyle      = "style"
)

// QualityEvaluation ist das Ergebnis der LLM-as-a-Judge Bewertung.
// Allein Score entscheidet über Akzeptanz; Subscores sind informativ.
type QualityEvaluation struct {
	Score     int                `json:"score"`
	Subscores map[string]float64 `json:"subscores,omitempty"`
	Feedback  string             `json:"feedback,omitempty"`
}

// ImprovementHints baut aus schwachen Subscores und dem Feedback den
// Verbesserungshinweis für den nächsten Entwurf.
func (e QualityEvaluation) ImprovementHints() string {
	var weak []string
	for name, score := range e.Subscores {
		if score < 70 {
			weak = append(weak, name)
		}
	}
	sort.Strings(weak)

	var parts []string
	for _, name := range weak {
		parts = append(parts, fmt.Sprintf("- Improve %s (scored %.0f/100)", name, e.Subscores[name]))
	}
	if e.Feedback != "" {
		parts = append(parts, "- Judge feedback: "+e.Feedback)
	}
	return strings.Join(parts, "\n")
}

// Judge bewertet einen Kandidaten mit einem Score von 0-100.
type Judge interface {
	Evaluate(ctx context.Context, candidate DraftCandidate) (QualityEvaluation, error)
}

// LLMJudge implementiert Judge über ein (idealerweise separates) Judge-Modell.
type LLMJudge struct {
	llm    llm.Client
	logger *zap.Logger
}

// NewLLMJudge erstellt einen neuen Judge.
func NewLLMJudge(client llm.Client, logger *zap.Logger) *LLMJudge {
	return &LLMJudge{llm: client, logger: logger}
}

// judgeResponse ist das erwartete JSON des Judge-Modells.
type judgeResponse struct {
	OverallScore float64            `json:"overall_score"`
	Subscores    map[string]float64 `json:"subscores"`
	Feedback     string             `json:"feedback"`
}

// Evaluate lässt den Kandidaten bewerten. Nicht parsebarer Output wird als
// ErrJudgeFailed gemeldet; der Score wird defensiv auf [0,100] begrenzt.
func (j *LLMJudge) Evaluate(ctx context.Context, candidate DraftCandidate) (QualityEvaluation, error) {
	log := j.logger.With(zap.String("topic", candidate.Topic))
	log.Info("Bewerte Artikel-Qualität mit LLM-as-a-Judge.")

	raw, err := j.llm.Complete(ctx, llm.Prompt{
		System:      "You are an expert educational content evaluator. Always respond with valid JSON only.",
		User:        buildJudgePrompt(candidate),
		Temperature: 0.2,
		MaxTokens:   1200,
	})
	if err != nil {
		return QualityEvaluation{}, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}

	parsed, err := parseJudgeResponse(raw)
	if err != nil {
		log.Error("Judge-Antwort nicht parsebar", zap.Error(err), zap.String("raw", raw))
		return QualityEvaluation{}, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}

	eval := QualityEvaluation{
		Score:     ClampScore(int(parsed.OverallScore + 0.5)),
		Subscores: parsed.Subscores,
		Feedback:  strings.TrimSpace(parsed.Feedback),
	}
	log.Info("Bewertung abgeschlossen", zap.Int("score", eval.Score))
	return eval, nil
}

func buildJudgePrompt(candidate DraftCandidate) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the following article.\n\n")
	sb.WriteString(fmt.Sprintf("**Topic**: %s\n\n", candidate.Topic))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n\n", candidate.Title))
	sb.WriteString("**Article**:\n")
	sb.WriteString(candidate.Content)
	sb.WriteString("\n\nEvaluate the article on these FIVE criteria, each 0-100:\n")
	sb.WriteString("1. usefulness - does the reader learn something meaningful?\n")
	sb.WriteString("2. factuality - are the facts accurate and verifiable?\n")
	sb.WriteString("3. relevance - does the article stay focused on the topic?\n")
	sb.WriteString("4. tone - professional and educational, not promotional?\n")
	sb.WriteString("5. style - formal, fluent, vocabulary-rich (C1 level)?\n\n")
	sb.WriteString("**Output Format** (JSON only, no additional text):\n")
	sb.WriteString(`{"overall_score": <number 0-100>, "subscores": {"usefulness": <0-100>, "factuality": <0-100>, "relevance": <0-100>, "tone": <0-100>, "style": <0-100>}, "feedback": "short rationale with the main weaknesses"}`)
	sb.WriteString("\n\nRespond ONLY with valid JSON, no markdown formatting or additional text.")
	return sb.String()
}

// parseJudgeResponse parst die Judge-Antwort. Markdown-Zäune werden entfernt,
// kaputtes JSON wird vor dem Aufgeben einmal repariert.
func parseJudgeResponse(raw string) (judgeResponse, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return judgeResponse{}, fmt.Errorf("repair judge json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return judgeResponse{}, fmt.Errorf("parse judge json: %w", err)
	}
	return parsed, nil
}

// ClampScore begrenzt einen Score auf den Vertragsbereich [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
