package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flowy-newsletter/config"
	"flowy-newsletter/llm"
	"flowy-newsletter/models"
	"flowy-newsletter/providers"
	"flowy-newsletter/providers/tavily"
	"flowy-newsletter/services"
	"flowy-newsletter/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	articlesGeneratedCounter prometheus.Counter
	regenerationsCounter     prometheus.Counter
	failedSlotsCounter       prometheus.Counter
)

func init() {
	articlesGeneratedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_articles_generated_total",
			Help: "Total number of articles persisted to the database.",
		},
	)
	regenerationsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_regeneration_attempts_total",
			Help: "Total number of regeneration attempts beyond the first draft.",
		},
	)
	failedSlotsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_failed_slots_total",
			Help: "Total number of generation slots that produced no article.",
		},
	)
	prometheus.MustRegister(articlesGeneratedCounter, regenerationsCounter, failedSlotsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to articles database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Article{}, &models.UserInteraction{})

	// Setup Providers
	enabledProviderNames := strings.Split(cfg.EnabledProviders, ",")
	var searchProvider providers.SearchProvider
	for _, name := range enabledProviderNames {
		switch strings.TrimSpace(name) {
		case "tavily":
			searchProvider = tavily.NewFetcher(cfg, logging)
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if searchProvider == nil {
		logging.Fatal("No valid search provider enabled. Check ENABLED_PROVIDERS in .env")
	}
	logging.Info("Active search provider loaded", zap.String("provider", searchProvider.Name()))

	store := buildStore(cfg, db, logging)

	// Vektor-Index ist best-effort: ohne ihn laufen Generierung und Listing weiter.
	index, err := storage.NewVectorIndex(cfg)
	if err != nil {
		logging.Warn("Vector index unavailable, semantic search disabled", zap.Error(err))
	} else {
		store.Index = index
	}

	// Setup Services
	drafterLLM, err := llm.NewOpenAIClient(llm.Settings{BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel})
	if err != nil {
		logging.Fatal("Drafter LLM client creation failed", zap.Error(err))
	}
	judgeLLM, err := llm.NewOpenAIClient(llm.Settings{BaseURL: cfg.JudgeBaseURL(), APIKey: cfg.JudgeAPIKey(), Model: cfg.JudgeModel()})
	if err != nil {
		logging.Fatal("Judge LLM client creation failed", zap.Error(err))
	}

	drafter := services.NewLLMDrafter(drafterLLM, logging)
	judge := services.NewLLMJudge(judgeLLM, logging)
	generation := services.NewGenerationService(cfg, searchProvider, drafter, judge, store, logging)
	recommender := services.NewRecommendationService(db, store.Index, services.DefaultRecommenderWeights(), logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "flowy-newsletter"})
	})

	// Setup Routes
	setupNewsletterRoutes(router, cfg, generation, store, logging)
	setupRecommendationRoutes(router, recommender, logging)
	setupSystemRoutes(router, store, recommender, logging)

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.DailyTopics != "" {
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled generation job...")
			topics := strings.Split(cfg.DailyTopics, ",")
			outcomes, err := generation.Generate(context.Background(), services.GenerationRequest{
				Topics:                  topics,
				CountPerTopic:           cfg.DefaultCountPerTopic,
				QualityThreshold:        cfg.DefaultQualityThreshold,
				MaxRegenerationAttempts: cfg.DefaultMaxRegenerations,
			})
			if err != nil {
				logging.Error("Cron job failed", zap.Error(err))
				return
			}
			recordOutcomeMetrics(outcomes)
			logging.Info("Cron job completed", zap.Int("slots", len(outcomes)))
		})
	}
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// buildStore verdrahtet den Store mit dem optionalen S3-Archiv.
func buildStore(cfg *config.Config, db *gorm.DB, logging *zap.Logger) *services.ArticleStore {
	if !cfg.ArchiveEnabled() {
		return services.NewArticleStore(cfg, db, nil, nil, logging)
	}
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Warn("S3 client creation failed, archiving disabled", zap.Error(err))
		return services.NewArticleStore(cfg, db, nil, nil, logging)
	}
	return services.NewArticleStore(cfg, db, s3Client, nil, logging)
}

// generateRequest ist der Request-Body von POST /api/newsletter/generate.
// Pointer-Felder unterscheiden "weggelassen" von "explizit gesetzt".
type generateRequest struct {
	Topics                  []string `json:"topics" binding:"required"`
	CountPerTopic           *int     `json:"count_per_topic"`
	QualityThreshold        *int     `json:"quality_threshold"`
	MaxRegenerationAttempts *int     `json:"max_regeneration_attempts"`
}

func (r generateRequest) toServiceRequest(cfg *config.Config) services.GenerationRequest {
	req := services.GenerationRequest{
		Topics:                  r.Topics,
		CountPerTopic:           cfg.DefaultCountPerTopic,
		QualityThreshold:        cfg.DefaultQualityThreshold,
		MaxRegenerationAttempts: cfg.DefaultMaxRegenerations,
	}
	if r.CountPerTopic != nil {
		req.CountPerTopic = *r.CountPerTopic
	}
	if r.QualityThreshold != nil {
		req.QualityThreshold = *r.QualityThreshold
	}
	if r.MaxRegenerationAttempts != nil {
		req.MaxRegenerationAttempts = *r.MaxRegenerationAttempts
	}
	return req
}

func recordOutcomeMetrics(outcomes []services.GenerationOutcome) {
	for _, outcome := range outcomes {
		if outcome.Article != nil {
			articlesGeneratedCounter.Inc()
		} else {
			failedSlotsCounter.Inc()
		}
		if outcome.AttemptsUsed > 1 {
			regenerationsCounter.Add(float64(outcome.AttemptsUsed - 1))
		}
	}
}

func setupNewsletterRoutes(router *gin.Engine, cfg *config.Config, generation *services.GenerationService, store *services.ArticleStore, log *zap.Logger) {
	rg := router.Group("/api/newsletter")

	// POST - Batch-Generierung, Antwort ist das flache Artikel-Array.
	rg.POST("/generate", func(c *gin.Context) {
		var req generateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'topics' field is required."})
			return
		}

		outcomes, err := generation.Generate(c.Request.Context(), req.toServiceRequest(cfg))
		if err != nil {
			if errors.Is(err, services.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": services.ErrorCode(err)})
				return
			}
			log.Error("Generation batch failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
			return
		}
		recordOutcomeMetrics(outcomes)

		articles := make([]models.Article, 0, len(outcomes))
		for _, outcome := range outcomes {
			if outcome.Article != nil {
				articles = append(articles, *outcome.Article)
			}
		}
		c.JSON(http.StatusOK, articles)
	})

	// POST - Wie /generate, zusätzlich mit maschinenlesbarem Slot-Status.
	rg.POST("/generate/detailed", func(c *gin.Context) {
		var req generateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'topics' field is required."})
			return
		}

		outcomes, err := generation.Generate(c.Request.Context(), req.toServiceRequest(cfg))
		if err != nil {
			if errors.Is(err, services.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": services.ErrorCode(err)})
				return
			}
			log.Error("Generation batch failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
			return
		}
		recordOutcomeMetrics(outcomes)

		type slotResult struct {
			Topic        string          `json:"topic"`
			Replicate    int             `json:"replicate"`
			Article      *models.Article `json:"article,omitempty"`
			AttemptsUsed int             `json:"attempts_used"`
			ThresholdMet bool            `json:"threshold_met"`
			ErrorCode    string          `json:"error_code,omitempty"`
			Error        string          `json:"error,omitempty"`
		}

		slots := make([]slotResult, 0, len(outcomes))
		articles := make([]models.Article, 0, len(outcomes))
		for _, outcome := range outcomes {
			slot := slotResult{
				Topic:        outcome.Topic,
				Replicate:    outcome.Replicate,
				Article:      outcome.Article,
				AttemptsUsed: outcome.AttemptsUsed,
				ThresholdMet: outcome.ThresholdMet,
			}
			if outcome.Err != nil {
				slot.ErrorCode = services.ErrorCode(outcome.Err)
				slot.Error = outcome.Err.Error()
			}
			if outcome.Article != nil {
				articles = append(articles, *outcome.Article)
			}
			slots = append(slots, slot)
		}
		c.JSON(http.StatusOK, gin.H{"articles": articles, "slots": slots})
	})

	// GET - Artikel-Liste, optional nach Thema gefiltert
	rg.GET("/articles", func(c *gin.Context) {
		topic := c.Query("topic")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		articles, err := store.List(c.Request.Context(), topic, limit, offset)
		if err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// GET - Einzelner Artikel über seine externe ID
	rg.GET("/articles/:id", func(c *gin.Context) {
		article, err := store.GetByArticleID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("Database query for article failed", zap.String("article_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	// GET - Semantische Suche über den Vektor-Index
	rg.GET("/search", func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))

		hits, err := store.SearchSimilar(c.Request.Context(), query, limit)
		if err != nil {
			log.Error("Semantic search failed", zap.String("query", query), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": query, "results": hits})
	})
}

func setupRecommendationRoutes(router *gin.Engine, recommender *services.RecommendationService, log *zap.Logger) {
	rg := router.Group("/api/recommendations")

	// POST - Empfehlungen für einen Nutzer
	rg.POST("/get", func(c *gin.Context) {
		var req struct {
			UserID              string `json:"user_id" binding:"required"`
			Limit               int    `json:"limit"`
			Strategy            string `json:"strategy"`
			ApplyDiversity      *bool  `json:"apply_diversity"`
			IncludeExplanations bool   `json:"include_explanations"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' field is required."})
			return
		}

		opts := services.RecommendOptions{
			Limit:               req.Limit,
			Strategy:            req.Strategy,
			ApplyDiversity:      true,
			IncludeExplanations: req.IncludeExplanations,
		}
		if req.ApplyDiversity != nil {
			opts.ApplyDiversity = *req.ApplyDiversity
		}

		recs, err := recommender.Recommend(c.Request.Context(), req.UserID, opts)
		if err != nil {
			log.Error("Recommendation query failed", zap.String("user_id", req.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recommendation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "recommendations": recs})
	})

	// POST - Interaktion aufzeichnen (read/rate/bookmark)
	rg.POST("/interact", func(c *gin.Context) {
		var req struct {
			UserID          string `json:"user_id" binding:"required"`
			ArticleID       string `json:"article_id" binding:"required"`
			InteractionType string `json:"interaction_type" binding:"required"`
			Rating          *int   `json:"rating"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, article_id and interaction_type are required"})
			return
		}

		err := recommender.RecordInteraction(c.Request.Context(), req.UserID, req.ArticleID, req.InteractionType, req.Rating)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "interaction recorded"})
	})

	// GET - Lesehistorie eines Nutzers
	rg.GET("/user/:id/history", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		history, err := recommender.UserHistory(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			log.Error("History query failed", zap.String("user_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "history": history})
	})
}

func setupSystemRoutes(router *gin.Engine, store *services.ArticleStore, recommender *services.RecommendationService, log *zap.Logger) {
	rg := router.Group("/api/system")

	rg.GET("/stats", func(c *gin.Context) {
		storeStats, err := store.Stats(c.Request.Context())
		if err != nil {
			log.Error("Stats query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		interactionStats, err := recommender.Stats(c.Request.Context())
		if err != nil {
			log.Error("Interaction stats query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"articles": storeStats, "interactions": interactionStats})
	})

	rg.GET("/topics", func(c *gin.Context) {
		topics, err := store.Topics(c.Request.Context())
		if err != nil {
			log.Error("Topics query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"topics": topics})
	})
}
