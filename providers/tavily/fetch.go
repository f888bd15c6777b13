package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"flowy-newsletter/config"
	"flowy-newsletter/providers"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher kapselt die Interaktion mit der Tavily Search API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt eine neue Instanz des Tavily-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "tavily"
}

// Search holt Web-Kontext für ein Thema. Leere Ergebnisse gelten als Fehler,
// damit der Orchestrator keine Artikel ohne Quellenmaterial erzeugt.
func (f *Fetcher) Search(ctx context.Context, topic string) (providers.SourceMaterial, error) {
	log := f.Logger.With(zap.String("provider", "tavily"), zap.String("topic", topic))
	log.Info("Starte Web-Suche für Thema.")

	body, err := json.Marshal(searchRequest{
		Query:       topic,
		SearchDepth: "basic",
		MaxResults:  f.Config.TavilyMaxResults,
	})
	if err != nil {
		return providers.SourceMaterial{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Config.TavilyBaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return providers.SourceMaterial{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.Config.TavilyAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Error("Tavily-Anfrage fehlgeschlagen", zap.Error(err))
		return providers.SourceMaterial{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		log.Error("Tavily hat nicht-200-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(raw)))
		return providers.SourceMaterial{}, fmt.Errorf("tavily search failed: status %d", resp.StatusCode)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		log.Error("Fehler beim Parsen der Tavily-Antwort", zap.Error(err))
		return providers.SourceMaterial{}, err
	}

	if len(searchResp.Results) == 0 {
		return providers.SourceMaterial{}, fmt.Errorf("tavily returned no results for %q", topic)
	}

	material := providers.SourceMaterial{Topic: topic}
	for _, r := range searchResp.Results {
		if r.Content == "" {
			continue
		}
		material.Snippets = append(material.Snippets, providers.SourceSnippet{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}
	if len(material.Snippets) == 0 {
		return providers.SourceMaterial{}, fmt.Errorf("tavily returned only empty snippets for %q", topic)
	}

	log.Info("Suche abgeschlossen", zap.Int("snippets", len(material.Snippets)))
	return material, nil
}
