package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"

	"flowy-newsletter/config"
)

// SimilarHit ist ein Treffer der semantischen Suche.
type SimilarHit struct {
	ArticleID  string
	Topic      string
	Title      string
	Similarity float64
}

// VectorIndex hält Artikel-Embeddings für semantische Suche und die
// Ähnlichkeits-Komponente der Recommendations. Persistiert auf Disk.
type VectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorIndex öffnet (oder erstellt) den persistenten Index.
// Embeddings kommen vom konfigurierten OpenAI-kompatiblen Endpoint.
func NewVectorIndex(cfg *config.Config) (*VectorIndex, error) {
	if dir := filepath.Dir(cfg.VectorIndexPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	db, err := chromem.NewPersistentDB(cfg.VectorIndexPath, false)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	embed := chromem.NewEmbeddingFuncOpenAICompat(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel, nil)
	collection, err := db.GetOrCreateCollection("articles", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	return &VectorIndex{db: db, collection: collection}, nil
}

// Index nimmt einen Artikel in den Index auf.
func (v *VectorIndex) Index(ctx context.Context, articleID, topic, title, content string) error {
	return v.collection.AddDocument(ctx, chromem.Document{
		ID:      articleID,
		Content: content,
		Metadata: map[string]string{
			"topic": topic,
			"title": title,
		},
	})
}

// Similar liefert die topK ähnlichsten Artikel zu einem Text.
func (v *VectorIndex) Similar(ctx context.Context, text string, topK int) ([]SimilarHit, error) {
	count := v.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := v.collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]SimilarHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SimilarHit{
			ArticleID:  r.ID,
			Topic:      r.Metadata["topic"],
			Title:      r.Metadata["title"],
			Similarity: float64(r.Similarity),
		})
	}
	return hits, nil
}

// Count gibt die Anzahl indizierter Artikel zurück.
func (v *VectorIndex) Count() int {
	return v.collection.Count()
}
