package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flowy-newsletter/models"
	"flowy-newsletter/storage"
)

// stubIndexer liefert vorbereitete Treffer pro Abfragetext und schneidet wie
// der echte Index auf topK ab.
type stubIndexer struct {
	hits map[string][]storage.SimilarHit
	size int
}

func (s *stubIndexer) Index(ctx context.Context, articleID, topic, title, content string) error {
	return nil
}

func (s *stubIndexer) Similar(ctx context.Context, text string, topK int) ([]storage.SimilarHit, error) {
	hits := s.hits[text]
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *stubIndexer) Count() int { return s.size }

func newTestRecommender(t *testing.T) *RecommendationService {
	t.Helper()
	db := openTestDB(t)
	return NewRecommendationService(db, nil, DefaultRecommenderWeights(), zap.NewNop())
}

func recordRead(t *testing.T, r *RecommendationService, userID, articleID string) {
	t.Helper()
	require.NoError(t, r.RecordInteraction(context.Background(), userID, articleID, models.InteractionRead, nil))
}

func recordRating(t *testing.T, r *RecommendationService, userID, articleID string, rating int) {
	t.Helper()
	require.NoError(t, r.RecordInteraction(context.Background(), userID, articleID, models.InteractionRate, &rating))
}

func TestWeightsAreNormalized(t *testing.T) {
	r := NewRecommendationService(nil, nil, RecommenderWeights{Rating: 2, Similarity: 2, Topic: 2, Recency: 2}, zap.NewNop())
	sum := r.weights.Rating + r.weights.Similarity + r.weights.Topic + r.weights.Recency
	assert.InDelta(t, 1.0, sum, 0.0001)
	assert.InDelta(t, 0.25, r.weights.Rating, 0.0001)

	// Unbrauchbare Gewichte fallen auf die Defaults zurück.
	r = NewRecommendationService(nil, nil, RecommenderWeights{}, zap.NewNop())
	assert.InDelta(t, 0.35, r.weights.Similarity, 0.0001)
}

func TestRecordInteractionValidation(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "a-1", "ai", 80, true, now)

	assert.Error(t, r.RecordInteraction(context.Background(), "u1", "a-1", "share", nil), "unknown type")
	assert.Error(t, r.RecordInteraction(context.Background(), "u1", "a-1", models.InteractionRate, nil), "rate without rating")

	bad := 6
	assert.Error(t, r.RecordInteraction(context.Background(), "u1", "a-1", models.InteractionRate, &bad), "rating out of range")

	err := r.RecordInteraction(context.Background(), "u1", "missing", models.InteractionRead, nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	recordRead(t, r, "u1", "a-1")
	recordRating(t, r, "u1", "a-1", 5)
	require.NoError(t, r.RecordInteraction(context.Background(), "u1", "a-1", models.InteractionBookmark, nil))

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalInteractions)
	assert.Equal(t, int64(1), stats.TotalUsers)
}

func TestRecommendColdStartForNewUser(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "quiet", "ai", 80, true, now.Add(-48*time.Hour))
	seedArticle(t, r.DB, "popular", "cooking", 85, true, now.Add(-48*time.Hour))

	// "popular" wird von vielen Nutzern gelesen und gut bewertet.
	for _, user := range []string{"u1", "u2", "u3", "u4"} {
		recordRead(t, r, user, "popular")
	}
	recordRating(t, r, "u1", "popular", 5)
	recordRating(t, r, "u2", "popular", 5)

	recs, err := r.Recommend(context.Background(), "brand-new-user", RecommendOptions{Limit: 5, IncludeExplanations: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "popular", recs[0].ArticleID)
	assert.NotEmpty(t, recs[0].Explanation)

	// Ohne das Flag bleiben die Erklärungen leer.
	recs, err = r.Recommend(context.Background(), "brand-new-user", RecommendOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Empty(t, recs[0].Explanation)
}

func TestRecommendPersonalizedPrefersFamiliarTopic(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "read-ai", "ai", 80, true, now.Add(-24*time.Hour))
	seedArticle(t, r.DB, "fresh-ai", "ai", 82, true, now.Add(-24*time.Hour))
	seedArticle(t, r.DB, "fresh-cooking", "cooking", 82, true, now.Add(-24*time.Hour))

	recordRead(t, r, "alice", "read-ai")

	recs, err := r.Recommend(context.Background(), "alice", RecommendOptions{Limit: 5, IncludeExplanations: true})
	require.NoError(t, err)
	require.Len(t, recs, 2, "already read articles are excluded")

	assert.Equal(t, "fresh-ai", recs[0].ArticleID)
	assert.Greater(t, recs[0].Score, recs[1].Score)
	assert.InDelta(t, 1.0, recs[0].ComponentScores["topic"], 0.0001)
	assert.InDelta(t, 0.0, recs[1].ComponentScores["topic"], 0.0001)
	assert.NotEmpty(t, recs[0].Explanation)
}

func TestRecommendHonorsLimit(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "read-1", "ai", 80, true, now)
	seedArticle(t, r.DB, "c-1", "ai", 80, true, now)
	seedArticle(t, r.DB, "c-2", "ai", 80, true, now)
	seedArticle(t, r.DB, "c-3", "ai", 80, true, now)

	recordRead(t, r, "bob", "read-1")

	recs, err := r.Recommend(context.Background(), "bob", RecommendOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRecommendRatingComponent(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "read-1", "misc", 80, true, now)
	seedArticle(t, r.DB, "loved", "ai", 80, true, now)
	seedArticle(t, r.DB, "panned", "ai", 80, true, now)

	recordRead(t, r, "carol", "read-1")
	recordRating(t, r, "u1", "loved", 5)
	recordRating(t, r, "u1", "panned", 1)

	recs, err := r.Recommend(context.Background(), "carol", RecommendOptions{Limit: 5, IncludeExplanations: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "loved", recs[0].ArticleID)
	assert.InDelta(t, 1.0, recs[0].ComponentScores["rating"], 0.0001)
	assert.InDelta(t, 0.2, recs[1].ComponentScores["rating"], 0.0001)
}

func TestRecommendSimilarityComponent(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	seedArticle(t, db, "seed", "ai", 80, true, now)
	seedArticle(t, db, "near", "misc", 80, true, now)
	seedArticle(t, db, "far", "misc", 80, true, now)

	index := &stubIndexer{
		size: 3,
		hits: map[string][]storage.SimilarHit{
			"content of seed": {
				{ArticleID: "seed", Similarity: 1.0},
				{ArticleID: "near", Similarity: 0.9},
				{ArticleID: "far", Similarity: 0.1},
			},
		},
	}
	r := NewRecommendationService(db, index, DefaultRecommenderWeights(), zap.NewNop())
	recordRead(t, r, "erin", "seed")

	recs, err := r.Recommend(context.Background(), "erin", RecommendOptions{Limit: 5, IncludeExplanations: true})
	require.NoError(t, err)
	require.Len(t, recs, 2, "the read article itself never reappears")

	assert.Equal(t, "near", recs[0].ArticleID)
	assert.InDelta(t, 0.9, recs[0].ComponentScores["similarity"], 0.0001)
	assert.InDelta(t, 0.1, recs[1].ComponentScores["similarity"], 0.0001)
	assert.Greater(t, recs[0].Score, recs[1].Score)
}

func TestRecommendDiversityDropsNearDuplicateOfSelection(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	seedArticle(t, db, "seed", "ai", 80, true, now)
	seedArticle(t, db, "cand-a", "misc", 80, true, now)
	seedArticle(t, db, "cand-b", "misc", 80, true, now)
	seedArticle(t, db, "cand-c", "misc", 80, true, now)

	// cand-b ist ein Fast-Duplikat von cand-a, aber im Index liegt zwischen
	// beiden noch ein fremder Treffer ("seed"). Der Filter muss die gewählte
	// Empfehlung trotzdem finden und cand-b verwerfen.
	index := &stubIndexer{
		size: 4,
		hits: map[string][]storage.SimilarHit{
			"content of seed": {
				{ArticleID: "seed", Similarity: 1.0},
				{ArticleID: "cand-a", Similarity: 0.9},
				{ArticleID: "cand-b", Similarity: 0.88},
				{ArticleID: "cand-c", Similarity: 0.2},
			},
			"content of cand-b": {
				{ArticleID: "cand-b", Similarity: 1.0},
				{ArticleID: "seed", Similarity: 0.99},
				{ArticleID: "cand-a", Similarity: 0.95},
				{ArticleID: "cand-c", Similarity: 0.2},
			},
			"content of cand-c": {
				{ArticleID: "cand-c", Similarity: 1.0},
				{ArticleID: "cand-b", Similarity: 0.2},
			},
		},
	}
	r := NewRecommendationService(db, index, DefaultRecommenderWeights(), zap.NewNop())
	recordRead(t, r, "frank", "seed")

	recs, err := r.Recommend(context.Background(), "frank", RecommendOptions{Limit: 5, ApplyDiversity: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ArticleID)
	}
	assert.Equal(t, []string{"cand-a", "cand-c"}, ids)
}

func TestRecommendWithoutDiversityKeepsNearDuplicate(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	seedArticle(t, db, "seed", "ai", 80, true, now)
	seedArticle(t, db, "cand-a", "misc", 80, true, now)
	seedArticle(t, db, "cand-b", "misc", 80, true, now)

	index := &stubIndexer{
		size: 3,
		hits: map[string][]storage.SimilarHit{
			"content of seed": {
				{ArticleID: "cand-a", Similarity: 0.9},
				{ArticleID: "cand-b", Similarity: 0.88},
			},
			"content of cand-b": {
				{ArticleID: "cand-b", Similarity: 1.0},
				{ArticleID: "cand-a", Similarity: 0.95},
			},
		},
	}
	r := NewRecommendationService(db, index, DefaultRecommenderWeights(), zap.NewNop())
	recordRead(t, r, "gina", "seed")

	recs, err := r.Recommend(context.Background(), "gina", RecommendOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestUserHistory(t *testing.T) {
	r := newTestRecommender(t)
	now := time.Now().UTC()
	seedArticle(t, r.DB, "a-1", "ai", 80, true, now)
	seedArticle(t, r.DB, "a-2", "cooking", 85, true, now)

	recordRead(t, r, "dave", "a-1")
	recordRead(t, r, "dave", "a-2")
	recordRating(t, r, "dave", "a-1", 4)

	history, err := r.UserHistory(context.Background(), "dave", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	byID := make(map[string]HistoryEntry)
	for _, entry := range history {
		byID[entry.ArticleID] = entry
	}
	require.NotNil(t, byID["a-1"].UserRating)
	assert.Equal(t, 4, *byID["a-1"].UserRating)
	assert.Nil(t, byID["a-2"].UserRating)
	assert.Equal(t, "cooking", byID["a-2"].Topic)
}

func TestUserHistoryEmpty(t *testing.T) {
	r := newTestRecommender(t)
	history, err := r.UserHistory(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecencyScore(t *testing.T) {
	assert.InDelta(t, 1.0, recencyScore(time.Now()), 0.01)
	assert.InDelta(t, 0.5, recencyScore(time.Now().Add(-30*24*time.Hour)), 0.01)
	assert.Less(t, recencyScore(time.Now().Add(-365*24*time.Hour)), 0.1)
}
