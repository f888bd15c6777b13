package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"flowy-newsletter/models"
)

// Empfehlungs-Strategien.
const (
	StrategyPersonalized = "personalized"
	StrategyColdStart    = "cold_start"
)

// RecommenderWeights gewichtet die Komponenten des personalisierten Scores.
// Die Gewichte werden bei Konstruktion auf Summe 1 normiert.
type RecommenderWeights struct {
	Rating     float64
	Similarity float64
	Topic      float64
	Recency    float64
}

// DefaultRecommenderWeights sind die erprobten Standard-Gewichte.
func DefaultRecommenderWeights() RecommenderWeights {
	return RecommenderWeights{Rating: 0.30, Similarity: 0.35, Topic: 0.20, Recency: 0.15}
}

// Recommendation ist ein einzelner Empfehlungs-Eintrag.
type Recommendation struct {
	ArticleID       string             `json:"article_id"`
	Title           string             `json:"title"`
	Topic           string             `json:"topic"`
	Score           float64            `json:"score"`
	Explanation     string             `json:"explanation,omitempty"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
}

// RecommendOptions steuern eine Empfehlungs-Abfrage.
type RecommendOptions struct {
	Limit               int
	Strategy            string
	ApplyDiversity      bool
	IncludeExplanations bool
}

// RecommendationService rankt gespeicherte Artikel für einen Nutzer anhand
// von Interaktionshistorie, Inhalts-Ähnlichkeit, Themen-Affinität und Frische.
type RecommendationService struct {
	DB      *gorm.DB
	Index   ArticleIndexer
	Logger  *zap.Logger
	weights RecommenderWeights

	// Kandidaten oberhalb dieser Ähnlichkeit zu einer bereits gewählten
	// Empfehlung werden vom Diversity-Filter verworfen.
	DiversityThreshold float64
}

// NewRecommendationService erstellt einen neuen Service. index darf nil sein,
// dann entfallen Ähnlichkeits-Komponente und Diversity-Filter.
func NewRecommendationService(db *gorm.DB, index ArticleIndexer, weights RecommenderWeights, logger *zap.Logger) *RecommendationService {
	total := weights.Rating + weights.Similarity + weights.Topic + weights.Recency
	if total <= 0 {
		weights = DefaultRecommenderWeights()
		total = 1
	}
	weights.Rating /= total
	weights.Similarity /= total
	weights.Topic /= total
	weights.Recency /= total

	return &RecommendationService{
		DB:                 db,
		Index:              index,
		Logger:             logger,
		weights:            weights,
		DiversityThreshold: 0.85,
	}
}

// Recommend liefert die Top-Empfehlungen für einen Nutzer. Ohne Lesehistorie
// wird automatisch auf Cold-Start umgeschaltet.
func (r *RecommendationService) Recommend(ctx context.Context, userID string, opts RecommendOptions) ([]Recommendation, error) {
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	if opts.Strategy == StrategyColdStart {
		return r.coldStart(ctx, opts.Limit, opts.IncludeExplanations)
	}

	readIDs, readTopics, err := r.readingHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(readIDs) == 0 {
		r.Logger.Info("Nutzer ohne Lesehistorie, nutze Cold-Start", zap.String("user_id", userID))
		return r.coldStart(ctx, opts.Limit, opts.IncludeExplanations)
	}

	candidates, err := r.unreadArticles(ctx, readIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return r.coldStart(ctx, opts.Limit, opts.IncludeExplanations)
	}

	ratings, err := r.averageRatings(ctx)
	if err != nil {
		return nil, err
	}
	similarities := r.similarityToHistory(ctx, readIDs)

	scored := make([]Recommendation, 0, len(candidates))
	contentByID := make(map[string]string, len(candidates))
	for _, article := range candidates {
		contentByID[article.ArticleID] = article.Content

		components := map[string]float64{
			"rating":     r.ratingScore(ratings[article.ArticleID]),
			"similarity": similarities[article.ArticleID],
			"topic":      topicAffinity(article.Topic, readTopics),
			"recency":    recencyScore(article.CreatedAt),
		}
		score := r.weights.Rating*components["rating"] +
			r.weights.Similarity*components["similarity"] +
			r.weights.Topic*components["topic"] +
			r.weights.Recency*components["recency"]

		rec := Recommendation{
			ArticleID: article.ArticleID,
			Title:     article.Title,
			Topic:     article.Topic,
			Score:     score,
		}
		if opts.IncludeExplanations {
			rec.ComponentScores = components
			rec.Explanation = explainRecommendation(components, article.Topic)
		}
		scored = append(scored, rec)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if opts.ApplyDiversity && r.Index != nil {
		scored = r.applyDiversity(ctx, scored, contentByID)
	}

	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

// coldStart mischt Popularität, Durchschnitts-Rating und Frische.
func (r *RecommendationService) coldStart(ctx context.Context, limit int, withExplanations bool) ([]Recommendation, error) {
	var articles []models.Article
	if err := r.DB.WithContext(ctx).Order("created_at desc").Find(&articles).Error; err != nil {
		return nil, err
	}

	readCounts, err := r.readCounts(ctx)
	if err != nil {
		return nil, err
	}
	ratings, err := r.averageRatings(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]Recommendation, 0, len(articles))
	for _, article := range articles {
		reads := readCounts[article.ArticleID]
		avgRating := 3.0
		ratingCount := 0
		if agg, ok := ratings[article.ArticleID]; ok {
			avgRating = agg.Average
			ratingCount = agg.Count
		}
		recency := recencyScore(article.CreatedAt)

		rec := Recommendation{
			ArticleID: article.ArticleID,
			Title:     article.Title,
			Topic:     article.Topic,
			Score:     float64(reads)*0.4 + avgRating*0.4 + recency*10*0.2,
		}
		if withExplanations {
			rec.Explanation = explainColdStart(reads, avgRating, ratingCount)
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// RecordInteraction speichert eine read/rate/bookmark-Interaktion.
func (r *RecommendationService) RecordInteraction(ctx context.Context, userID, articleID, interactionType string, rating *int) error {
	switch interactionType {
	case models.InteractionRead, models.InteractionBookmark:
		rating = nil
	case models.InteractionRate:
		if rating == nil {
			return fmt.Errorf("rating score required for 'rate' interaction")
		}
		if *rating < 1 || *rating > 5 {
			return fmt.Errorf("rating must be between 1 and 5")
		}
	default:
		return fmt.Errorf("invalid interaction_type %q", interactionType)
	}

	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.Article{}).Where("article_id = ?", articleID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}

	interaction := models.UserInteraction{
		UserID:          userID,
		ArticleID:       articleID,
		InteractionType: interactionType,
		Rating:          rating,
	}
	return r.DB.WithContext(ctx).Create(&interaction).Error
}

// HistoryEntry ist ein Eintrag der Lesehistorie eines Nutzers.
type HistoryEntry struct {
	ArticleID  string    `json:"article_id"`
	Title      string    `json:"title"`
	Topic      string    `json:"topic"`
	ReadAt     time.Time `json:"read_at"`
	UserRating *int      `json:"user_rating,omitempty"`
}

// UserHistory liefert die zuletzt gelesenen Artikel eines Nutzers.
func (r *RecommendationService) UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit < 1 {
		limit = 20
	}

	var reads []models.UserInteraction
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND interaction_type = ?", userID, models.InteractionRead).
		Order("created_at desc").
		Limit(limit).
		Find(&reads).Error
	if err != nil {
		return nil, err
	}

	history := make([]HistoryEntry, 0, len(reads))
	for _, read := range reads {
		var article models.Article
		if err := r.DB.WithContext(ctx).Where("article_id = ?", read.ArticleID).First(&article).Error; err != nil {
			continue
		}
		entry := HistoryEntry{
			ArticleID: article.ArticleID,
			Title:     article.Title,
			Topic:     article.Topic,
			ReadAt:    read.CreatedAt,
		}
		var ratingRow models.UserInteraction
		if err := r.DB.WithContext(ctx).
			Where("user_id = ? AND article_id = ? AND interaction_type = ?", userID, read.ArticleID, models.InteractionRate).
			Order("created_at desc").
			First(&ratingRow).Error; err == nil {
			entry.UserRating = ratingRow.Rating
		}
		history = append(history, entry)
	}
	return history, nil
}

// InteractionStats sind die Interaktions-Kennzahlen für den System-Endpoint.
type InteractionStats struct {
	TotalInteractions int64 `json:"total_interactions"`
	TotalUsers        int64 `json:"total_users"`
}

// Stats berechnet die Interaktions-Kennzahlen.
func (r *RecommendationService) Stats(ctx context.Context) (InteractionStats, error) {
	var stats InteractionStats
	if err := r.DB.WithContext(ctx).Model(&models.UserInteraction{}).Count(&stats.TotalInteractions).Error; err != nil {
		return stats, err
	}
	err := r.DB.WithContext(ctx).Model(&models.UserInteraction{}).Distinct("user_id").Count(&stats.TotalUsers).Error
	return stats, err
}

// ---- interne Helfer ----

func (r *RecommendationService) readingHistory(ctx context.Context, userID string) (map[string]bool, map[string]int, error) {
	var reads []models.UserInteraction
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND interaction_type = ?", userID, models.InteractionRead).
		Find(&reads).Error
	if err != nil {
		return nil, nil, err
	}

	readIDs := make(map[string]bool, len(reads))
	readTopics := make(map[string]int)
	for _, read := range reads {
		if readIDs[read.ArticleID] {
			continue
		}
		readIDs[read.ArticleID] = true

		var article models.Article
		if err := r.DB.WithContext(ctx).Where("article_id = ?", read.ArticleID).First(&article).Error; err == nil {
			readTopics[article.Topic]++
		}
	}
	return readIDs, readTopics, nil
}

func (r *RecommendationService) unreadArticles(ctx context.Context, readIDs map[string]bool) ([]models.Article, error) {
	var articles []models.Article
	if err := r.DB.WithContext(ctx).Find(&articles).Error; err != nil {
		return nil, err
	}
	unread := articles[:0]
	for _, article := range articles {
		if !readIDs[article.ArticleID] {
			unread = append(unread, article)
		}
	}
	return unread, nil
}

// ratingAggregate fasst die Ratings eines Artikels zusammen.
type ratingAggregate struct {
	Average float64
	Count   int
}

func (r *RecommendationService) averageRatings(ctx context.Context) (map[string]ratingAggregate, error) {
	var rows []models.UserInteraction
	err := r.DB.WithContext(ctx).
		Where("interaction_type = ? AND rating IS NOT NULL", models.InteractionRate).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, row := range rows {
		if row.Rating == nil {
			continue
		}
		sums[row.ArticleID] += *row.Rating
		counts[row.ArticleID]++
	}

	out := make(map[string]ratingAggregate, len(sums))
	for id, sum := range sums {
		out[id] = ratingAggregate{Average: float64(sum) / float64(counts[id]), Count: counts[id]}
	}
	return out, nil
}

func (r *RecommendationService) readCounts(ctx context.Context) (map[string]int, error) {
	var rows []models.UserInteraction
	err := r.DB.WithContext(ctx).
		Where("interaction_type = ?", models.InteractionRead).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	seen := make(map[string]bool)
	for _, row := range rows {
		key := row.UserID + "|" + row.ArticleID
		if seen[key] {
			continue
		}
		seen[key] = true
		counts[row.ArticleID]++
	}
	return counts, nil
}

// similarityToHistory liefert pro Kandidat die maximale Ähnlichkeit zu den
// zuletzt gelesenen Artikeln. Ohne Index bleibt die Komponente 0.
func (r *RecommendationService) similarityToHistory(ctx context.Context, readIDs map[string]bool) map[string]float64 {
	out := make(map[string]float64)
	if r.Index == nil {
		return out
	}

	checked := 0
	for readID := range readIDs {
		if checked >= 5 {
			break
		}
		var article models.Article
		if err := r.DB.WithContext(ctx).Where("article_id = ?", readID).First(&article).Error; err != nil {
			continue
		}
		checked++

		hits, err := r.Index.Similar(ctx, article.Content, 10)
		if err != nil {
			r.Logger.Warn("Ähnlichkeits-Abfrage fehlgeschlagen", zap.Error(err))
			continue
		}
		for _, hit := range hits {
			if readIDs[hit.ArticleID] {
				continue
			}
			if hit.Similarity > out[hit.ArticleID] {
				out[hit.ArticleID] = hit.Similarity
			}
		}
	}
	return out
}

// applyDiversity verwirft Kandidaten, die einer bereits gewählten Empfehlung
// zu ähnlich sind. Erwartet absteigend sortierte Empfehlungen.
func (r *RecommendationService) applyDiversity(ctx context.Context, recs []Recommendation, contentByID map[string]string) []Recommendation {
	selected := make(map[string]bool)
	out := make([]Recommendation, 0, len(recs))

	// Die Abfrage muss den ganzen Index abdecken: ein abgeschnittenes Top-K
	// kann eine bereits gewählte Empfehlung hinter fremden Treffern verdecken.
	scanDepth := r.Index.Count()

	for _, rec := range recs {
		content := contentByID[rec.ArticleID]
		tooSimilar := false
		if content != "" && len(selected) > 0 && scanDepth > 0 {
			hits, err := r.Index.Similar(ctx, content, scanDepth)
			if err == nil {
				for _, hit := range hits {
					if hit.ArticleID == rec.ArticleID {
						continue
					}
					if selected[hit.ArticleID] && hit.Similarity >= r.DiversityThreshold {
						tooSimilar = true
						break
					}
				}
			}
		}
		if tooSimilar {
			continue
		}
		selected[rec.ArticleID] = true
		out = append(out, rec)
	}
	return out
}

func (r *RecommendationService) ratingScore(agg ratingAggregate) float64 {
	if agg.Count == 0 {
		return 3.0 / 5.0
	}
	return agg.Average / 5.0
}

func topicAffinity(topic string, readTopics map[string]int) float64 {
	total := 0
	for _, count := range readTopics {
		total += count
	}
	if total == 0 {
		return 0
	}
	return float64(readTopics[topic]) / float64(total)
}

// recencyScore: 1.0 für brandneue Artikel, fällt mit dem Alter in Monaten.
func recencyScore(createdAt time.Time) float64 {
	ageDays := time.Since(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1.0 / (1.0 + ageDays/30.0)
}

func explainRecommendation(components map[string]float64, topic string) string {
	var reasons []string
	if components["similarity"] >= 0.7 {
		reasons = append(reasons, "it is similar to articles you have read")
	}
	if components["topic"] >= 0.3 {
		reasons = append(reasons, fmt.Sprintf("you often read about %s", topic))
	}
	if components["rating"] >= 0.8 {
		reasons = append(reasons, "other readers rated it highly")
	}
	if components["recency"] >= 0.7 {
		reasons = append(reasons, "it is recent")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "it matches your overall reading profile")
	}
	return "Recommended because " + strings.Join(reasons, " and ")
}

func explainColdStart(reads int, avgRating float64, ratingCount int) string {
	var reasons []string
	if reads > 10 {
		reasons = append(reasons, fmt.Sprintf("popular (%d reads)", reads))
	} else if reads > 5 {
		reasons = append(reasons, fmt.Sprintf("trending (%d reads)", reads))
	}
	if ratingCount > 0 && avgRating >= 4.0 {
		reasons = append(reasons, fmt.Sprintf("highly rated (%.1f/5)", avgRating))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "recommended for new users")
	}
	return "Recommended because it's " + strings.Join(reasons, " and ")
}
