package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"flowy-newsletter/config"
	"flowy-newsletter/models"
	"flowy-newsletter/providers"
)

// GenerationRequest beschreibt einen Generierungs-Batch. Schwellwert und
// Versuchsbudget sind Request-Werte, keine Prozess-Globals.
type GenerationRequest struct {
	Topics                  []string
	CountPerTopic           int
	QualityThreshold        int
	MaxRegenerationAttempts int
}

// GenerationOutcome ist das Ergebnis genau eines Slots (Thema, Replikat).
// Bei Slot-Fehlern ist Article nil und Err gesetzt.
type GenerationOutcome struct {
	Topic        string
	Replicate    int
	Article      *models.Article
	AttemptsUsed int
	ThresholdMet bool
	Err          error
}

// ArticleSaver ist die vom Orchestrator benötigte Sicht auf den Store.
type ArticleSaver interface {
	Save(ctx context.Context, article *models.Article) error
}

// GenerationService orchestriert pro Slot die Schleife
// Suche → Entwurf → Bewertung → Akzeptanz-oder-Wiederholung.
type GenerationService struct {
	Config   *config.Config
	Provider providers.SearchProvider
	Drafter  Drafter
	Judge    Judge
	Store    ArticleSaver
	Logger   *zap.Logger
}

// NewGenerationService erstellt eine neue Instanz des GenerationService.
func NewGenerationService(cfg *config.Config, provider providers.SearchProvider, drafter Drafter, judge Judge, store ArticleSaver, logger *zap.Logger) *GenerationService {
	return &GenerationService{
		Config:   cfg,
		Provider: provider,
		Drafter:  drafter,
		Judge:    judge,
		Store:    store,
		Logger:   logger,
	}
}

// Generate verarbeitet alle Slots des Requests. Die Ergebnisreihenfolge ist
// immer Thema-major, Replikat-minor, unabhängig von der Fertigstellung.
// Slot-Fehler sind isoliert; der einzige fatale Fehler ist ErrInvalidRequest.
func (g *GenerationService) Generate(ctx context.Context, req GenerationRequest) ([]GenerationOutcome, error) {
	topics := normalizeTopics(req.Topics)
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics after trimming", ErrInvalidRequest)
	}
	if req.CountPerTopic < 1 {
		return nil, fmt.Errorf("%w: count_per_topic must be >= 1", ErrInvalidRequest)
	}
	if req.QualityThreshold < 0 || req.QualityThreshold > 100 {
		return nil, fmt.Errorf("%w: quality_threshold must be in [0,100]", ErrInvalidRequest)
	}
	if req.MaxRegenerationAttempts < 0 {
		return nil, fmt.Errorf("%w: max_regeneration_attempts must be >= 0", ErrInvalidRequest)
	}

	total := len(topics) * req.CountPerTopic
	g.Logger.Info("Starte Generierungs-Batch",
		zap.Strings("topics", topics),
		zap.Int("count_per_topic", req.CountPerTopic),
		zap.Int("quality_threshold", req.QualityThreshold),
		zap.Int("max_regeneration_attempts", req.MaxRegenerationAttempts),
		zap.Int("slots", total))

	outcomes := make([]GenerationOutcome, total)

	eg := &errgroup.Group{}
	limit := g.Config.MaxConcurrentSlots
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)

	for ti, topic := range topics {
		for r := 0; r < req.CountPerTopic; r++ {
			idx := ti*req.CountPerTopic + r
			topic := topic
			replicate := r
			eg.Go(func() error {
				outcomes[idx] = g.runSlot(ctx, topic, replicate, req)
				return nil
			})
		}
	}
	_ = eg.Wait()

	return outcomes, nil
}

// scored hält den bisher besten Kandidaten eines Slots.
type scored struct {
	candidate  DraftCandidate
	evaluation QualityEvaluation
}

// runSlot führt die Entwurf/Bewertungs-Schleife für einen Slot aus.
func (g *GenerationService) runSlot(ctx context.Context, topic string, replicate int, req GenerationRequest) GenerationOutcome {
	log := g.Logger.With(zap.String("topic", topic), zap.Int("replicate", replicate))
	outcome := GenerationOutcome{Topic: topic, Replicate: replicate}

	// Quellenmaterial ist eine harte Abhängigkeit: ohne Suche kein Artikel.
	material, err := g.search(ctx, topic)
	if err != nil {
		log.Error("Quellen-Suche fehlgeschlagen", zap.Error(err))
		outcome.Err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		return outcome
	}

	maxAttempts := req.MaxRegenerationAttempts + 1
	var best *scored
	var lastErr error
	feedback := ""
	attemptsUsed := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		attemptsUsed = attempt

		candidate, err := g.draft(ctx, topic, material, feedback)
		if err != nil {
			// Zählt gegen das Budget, bricht den Slot aber nicht sofort ab.
			log.Warn("Entwurf fehlgeschlagen", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		evaluation, err := g.judge(ctx, candidate)
		if err != nil {
			// Judge-Fehler zählen wie ein sehr schlechter Score gegen das Budget.
			log.Warn("Bewertung fehlgeschlagen", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		evaluation.Score = ClampScore(evaluation.Score)

		// Gleichstand behält den früheren Kandidaten (deterministisch).
		if best == nil || evaluation.Score > best.evaluation.Score {
			best = &scored{candidate: candidate, evaluation: evaluation}
		}

		if evaluation.Score >= req.QualityThreshold {
			log.Info("Qualitäts-Schwelle erreicht",
				zap.Int("score", evaluation.Score),
				zap.Int("attempt", attempt))
			break
		}

		log.Info("Qualität unter Schwelle",
			zap.Int("score", evaluation.Score),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts))
		feedback = evaluation.ImprovementHints()
	}

	outcome.AttemptsUsed = attemptsUsed

	if best == nil {
		log.Error("Slot ohne brauchbaren Kandidaten erschöpft", zap.Error(lastErr))
		if lastErr == nil {
			lastErr = fmt.Errorf("no attempt produced a candidate")
		}
		outcome.Err = fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
		return outcome
	}

	outcome.ThresholdMet = best.evaluation.Score >= req.QualityThreshold

	article, err := g.persist(ctx, best, outcome.AttemptsUsed, outcome.ThresholdMet)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: persist: %v", ErrGenerationFailed, err)
		return outcome
	}
	outcome.Article = article
	return outcome
}

// persist macht aus dem besten Kandidaten einen Artikel mit frischer ID.
func (g *GenerationService) persist(ctx context.Context, best *scored, attemptsUsed int, thresholdMet bool) (*models.Article, error) {
	article := &models.Article{
		ArticleID:    uuid.NewString(),
		Topic:        best.candidate.Topic,
		Title:        best.candidate.Title,
		Content:      best.candidate.Content,
		QualityScore: best.evaluation.Score,
		ThresholdMet: thresholdMet,
		AttemptsUsed: attemptsUsed,
		Feedback:     best.evaluation.Feedback,
	}
	if len(best.candidate.Vocabulary) > 0 {
		if data, err := json.Marshal(best.candidate.Vocabulary); err == nil {
			article.Vocabulary = datatypes.JSON(data)
		}
	}
	if len(best.evaluation.Subscores) > 0 {
		if data, err := json.Marshal(best.evaluation.Subscores); err == nil {
			article.Subscores = datatypes.JSON(data)
		}
	}

	if err := g.Store.Save(ctx, article); err != nil {
		return nil, err
	}
	return article, nil
}

// Die drei externen Aufrufe sind die einzigen Suspension Points eines Slots
// und laufen jeweils unter eigenem Timeout.

func (g *GenerationService) search(ctx context.Context, topic string) (providers.SourceMaterial, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout())
	defer cancel()
	return g.Provider.Search(ctx, topic)
}

func (g *GenerationService) draft(ctx context.Context, topic string, material providers.SourceMaterial, feedback string) (DraftCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout())
	defer cancel()
	return g.Drafter.Draft(ctx, topic, material, feedback)
}

func (g *GenerationService) judge(ctx context.Context, candidate DraftCandidate) (QualityEvaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout())
	defer cancel()
	return g.Judge.Evaluate(ctx, candidate)
}

func (g *GenerationService) callTimeout() time.Duration {
	if g.Config != nil && g.Config.ExternalCallTimeout > 0 {
		return g.Config.ExternalCallTimeout
	}
	return 60 * time.Second
}

// normalizeTopics trimmt Themen und filtert leere Einträge.
func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
