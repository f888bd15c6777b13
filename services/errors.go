package services

import "errors"

// Fehler-Taxonomie der Generierungs-Pipeline. Slot-Fehler sind isoliert und
// brechen niemals Geschwister-Slots desselben Batches ab.
var (
	// ErrInvalidRequest: Aufrufer-Fehler, wird vor jedem externen Call abgewiesen.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrSourceUnavailable: Such-Provider nicht erreichbar oder ohne Ergebnis.
	ErrSourceUnavailable = errors.New("source material unavailable")

	// ErrDraftFailed: Drafter lieferte leeren oder unbrauchbaren Output.
	ErrDraftFailed = errors.New("draft generation failed")

	// ErrJudgeFailed: Bewertung fehlgeschlagen, zählt wie ein sehr schlechter Score.
	ErrJudgeFailed = errors.New("quality evaluation failed")

	// ErrGenerationFailed: Budget erschöpft ohne einen einzigen brauchbaren Kandidaten.
	ErrGenerationFailed = errors.New("generation failed")
)

// ErrorCode liefert den maschinenlesbaren Code für die API-Antwort.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrDraftFailed):
		return "draft_failed"
	case errors.Is(err, ErrJudgeFailed):
		return "judge_failed"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	case err != nil:
		return "internal_error"
	default:
		return ""
	}
}
