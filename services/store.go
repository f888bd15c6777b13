package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flowy-newsletter/config"
	"flowy-newsletter/models"
	"flowy-newsletter/storage"
)

// ArticleIndexer ist die von Store und Recommender benötigte Sicht auf den
// Vektor-Index.
type ArticleIndexer interface {
	Index(ctx context.Context, articleID, topic, title, content string) error
	Similar(ctx context.Context, text string, topK int) ([]storage.SimilarHit, error)
	Count() int
}

// ArticleStore persistiert akzeptierte Artikel und stellt Abfragen bereit.
// Schreibzugriffe sind Single-Row-Inserts mit frischer ArticleID, daher ist
// keine Koordination zwischen parallelen Slots nötig.
type ArticleStore struct {
	Config   *config.Config
	DB       *gorm.DB
	S3Client *s3.Client
	Index    ArticleIndexer
	Logger   *zap.Logger
}

// NewArticleStore erstellt einen neuen Store. S3Client und Index sind optional.
func NewArticleStore(cfg *config.Config, db *gorm.DB, s3Client *s3.Client, index ArticleIndexer, logger *zap.Logger) *ArticleStore {
	return &ArticleStore{Config: cfg, DB: db, S3Client: s3Client, Index: index, Logger: logger}
}

// Save schreibt den Artikel in die Datenbank und danach best-effort ins
// S3-Archiv und den Vektor-Index. Archiv- und Index-Fehler werden nur geloggt.
func (s *ArticleStore) Save(ctx context.Context, article *models.Article) error {
	log := s.Logger.With(zap.String("article_id", article.ArticleID), zap.String("topic", article.Topic))

	if err := s.DB.WithContext(ctx).Create(article).Error; err != nil {
		log.Error("Artikel konnte nicht gespeichert werden", zap.Error(err))
		return err
	}
	log.Info("Artikel gespeichert", zap.Int("quality_score", article.QualityScore))

	if s.S3Client != nil && s.Config.ArchiveEnabled() {
		data, err := json.Marshal(article)
		if err == nil {
			key := fmt.Sprintf("articles/%s.json", article.ArticleID)
			link, upErr := storage.UploadJSON(ctx, s.S3Client, s.Config.ArchiveS3Bucket, key, data)
			if upErr != nil {
				log.Warn("S3-Archivierung fehlgeschlagen", zap.Error(upErr))
			} else {
				article.S3Link = link
				if dbErr := s.DB.WithContext(ctx).Model(article).Update("s3_link", link).Error; dbErr != nil {
					log.Warn("S3-Link konnte nicht gespeichert werden", zap.Error(dbErr))
				}
			}
		}
	}

	if s.Index != nil {
		if err := s.Index.Index(ctx, article.ArticleID, article.Topic, article.Title, article.Content); err != nil {
			log.Warn("Vektor-Indizierung fehlgeschlagen", zap.Error(err))
		}
	}

	return nil
}

// GetByArticleID holt einen Artikel über seine externe ID.
func (s *ArticleStore) GetByArticleID(ctx context.Context, articleID string) (*models.Article, error) {
	var article models.Article
	if err := s.DB.WithContext(ctx).Where("article_id = ?", articleID).First(&article).Error; err != nil {
		return nil, err
	}
	return &article, nil
}

// List liefert Artikel, optional nach Thema gefiltert, neueste zuerst.
func (s *ArticleStore) List(ctx context.Context, topic string, limit, offset int) ([]models.Article, error) {
	query := s.DB.WithContext(ctx).Model(&models.Article{})
	if topic != "" {
		query = query.Where("topic = ?", topic)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var articles []models.Article
	if err := query.Order("created_at desc").Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

// SearchSimilar führt eine semantische Suche über den Vektor-Index aus und
// reichert die Treffer mit den gespeicherten Artikeln an.
func (s *ArticleStore) SearchSimilar(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if s.Index == nil {
		return nil, fmt.Errorf("vector index not configured")
	}
	hits, err := s.Index.Similar(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		article, err := s.GetByArticleID(ctx, hit.ArticleID)
		if err != nil {
			// Index und DB können kurzzeitig auseinanderlaufen.
			s.Logger.Warn("Index-Treffer ohne DB-Artikel", zap.String("article_id", hit.ArticleID))
			continue
		}
		results = append(results, SearchHit{Article: *article, Similarity: hit.Similarity})
	}
	return results, nil
}

// SearchHit ist ein Artikel mit Ähnlichkeits-Score aus der semantischen Suche.
type SearchHit struct {
	Article    models.Article `json:"article"`
	Similarity float64        `json:"similarity"`
}

// Topics liefert alle vorhandenen Themen.
func (s *ArticleStore) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.DB.WithContext(ctx).Model(&models.Article{}).Distinct("topic").Order("topic").Pluck("topic", &topics).Error
	return topics, err
}

// StoreStats sind die Kennzahlen für den System-Endpoint.
type StoreStats struct {
	TotalArticles   int64   `json:"total_articles"`
	TopicsCount     int64   `json:"topics_count"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	ThresholdMet    int64   `json:"threshold_met_count"`
}

// Stats berechnet die Store-Kennzahlen.
func (s *ArticleStore) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats
	db := s.DB.WithContext(ctx).Model(&models.Article{})

	if err := db.Count(&stats.TotalArticles).Error; err != nil {
		return stats, err
	}
	if err := s.DB.WithContext(ctx).Model(&models.Article{}).Distinct("topic").Count(&stats.TopicsCount).Error; err != nil {
		return stats, err
	}
	if stats.TotalArticles > 0 {
		var avg *float64
		if err := s.DB.WithContext(ctx).Model(&models.Article{}).Select("AVG(quality_score)").Scan(&avg).Error; err != nil {
			return stats, err
		}
		if avg != nil {
			stats.AvgQualityScore = *avg
		}
	}
	if err := s.DB.WithContext(ctx).Model(&models.Article{}).Where("threshold_met = ?", true).Count(&stats.ThresholdMet).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
