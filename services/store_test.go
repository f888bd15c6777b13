package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowy-newsletter/config"
	"flowy-newsletter/models"
)

// openTestDB öffnet eine benannte In-Memory-SQLite-Datenbank pro Test.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Article{}, &models.UserInteraction{}))
	return db
}

func newTestStore(t *testing.T) *ArticleStore {
	t.Helper()
	return NewArticleStore(&config.Config{}, openTestDB(t), nil, nil, zap.NewNop())
}

func seedArticle(t *testing.T, db *gorm.DB, articleID, topic string, score int, thresholdMet bool, createdAt time.Time) {
	t.Helper()
	article := models.Article{
		ArticleID:    articleID,
		Topic:        topic,
		Title:        "About " + topic,
		Content:      "content of " + articleID,
		QualityScore: score,
		ThresholdMet: thresholdMet,
		AttemptsUsed: 1,
	}
	require.NoError(t, db.Create(&article).Error)
	require.NoError(t, db.Model(&article).Update("created_at", createdAt).Error)
}

func TestStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	article := &models.Article{
		ArticleID:    "a-1",
		Topic:        "ai",
		Title:        "On AI",
		Content:      "body",
		QualityScore: 85,
		ThresholdMet: true,
		AttemptsUsed: 1,
	}
	require.NoError(t, store.Save(context.Background(), article))

	got, err := store.GetByArticleID(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "On AI", got.Title)
	assert.Equal(t, 85, got.QualityScore)
	assert.True(t, got.ThresholdMet)

	_, err = store.GetByArticleID(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestStoreListFilterAndPagination(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	seedArticle(t, store.DB, "a-1", "ai", 80, true, now.Add(-3*time.Hour))
	seedArticle(t, store.DB, "a-2", "ai", 75, true, now.Add(-2*time.Hour))
	seedArticle(t, store.DB, "a-3", "cooking", 90, true, now.Add(-1*time.Hour))

	all, err := store.List(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-3", all[0].ArticleID, "newest first")

	ai, err := store.List(context.Background(), "ai", 0, 0)
	require.NoError(t, err)
	require.Len(t, ai, 2)
	assert.Equal(t, "a-2", ai[0].ArticleID)

	page, err := store.List(context.Background(), "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a-2", page[0].ArticleID)
}

func TestStoreTopics(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	seedArticle(t, store.DB, "a-1", "ai", 80, true, now)
	seedArticle(t, store.DB, "a-2", "ai", 75, true, now)
	seedArticle(t, store.DB, "a-3", "cooking", 90, true, now)

	topics, err := store.Topics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ai", "cooking"}, topics)
}

func TestStoreStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	seedArticle(t, store.DB, "a-1", "ai", 80, true, now)
	seedArticle(t, store.DB, "a-2", "ai", 60, false, now)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalArticles)
	assert.Equal(t, int64(1), stats.TopicsCount)
	assert.Equal(t, int64(1), stats.ThresholdMet)
	assert.InDelta(t, 70.0, stats.AvgQualityScore, 0.001)
}

func TestStoreSearchSimilarWithoutIndex(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SearchSimilar(context.Background(), "anything", 5)
	assert.Error(t, err)
}
