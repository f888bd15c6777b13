package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Drafter-LLM (OpenAI-kompatibler Endpoint)
	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY" required:"true"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`

	// Judge-LLM: separates Modell empfohlen, fällt sonst auf das Drafter-Modell zurück.
	JudgeLLMBaseURL string `envconfig:"JUDGE_LLM_BASE_URL"`
	JudgeLLMAPIKey  string `envconfig:"JUDGE_LLM_API_KEY"`
	JudgeLLMModel   string `envconfig:"JUDGE_LLM_MODEL"`

	TavilyBaseURL    string `envconfig:"TAVILY_BASE_URL" default:"https://api.tavily.com"`
	TavilyAPIKey     string `envconfig:"TAVILY_API_KEY" required:"true"`
	TavilyMaxResults int    `envconfig:"TAVILY_MAX_RESULTS" default:"3"`

	// Embedded Vektor-Index für semantische Suche und Recommendations.
	VectorIndexPath string `envconfig:"VECTOR_INDEX_PATH" default:"data/articles.gob"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// Request-Level-Defaults, greifen nur wenn der Client das Feld weglässt.
	DefaultQualityThreshold int `envconfig:"DEFAULT_QUALITY_THRESHOLD" default:"70"`
	DefaultCountPerTopic    int `envconfig:"DEFAULT_COUNT_PER_TOPIC" default:"1"`
	DefaultMaxRegenerations int `envconfig:"DEFAULT_MAX_REGENERATIONS" default:"2"`

	MaxConcurrentSlots  int           `envconfig:"MAX_CONCURRENT_SLOTS" default:"3"`
	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"60s"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 6 * * *"`
	DailyTopics  string `envconfig:"DAILY_TOPICS"`

	// Optionales S3-Archiv für akzeptierte Artikel (aktiv sobald Bucket gesetzt).
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`

	EnabledProviders string `envconfig:"ENABLED_PROVIDERS" default:"tavily"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// JudgeBaseURL liefert den Judge-Endpoint, mit Fallback auf den Drafter-Endpoint.
func (c *Config) JudgeBaseURL() string {
	if c.JudgeLLMBaseURL != "" {
		return c.JudgeLLMBaseURL
	}
	return c.LLMBaseURL
}

// JudgeAPIKey liefert den Judge-Key, mit Fallback auf den Drafter-Key.
func (c *Config) JudgeAPIKey() string {
	if c.JudgeLLMAPIKey != "" {
		return c.JudgeLLMAPIKey
	}
	return c.LLMAPIKey
}

// JudgeModel liefert das Judge-Modell, mit Fallback auf das Drafter-Modell.
func (c *Config) JudgeModel() string {
	if c.JudgeLLMModel != "" {
		return c.JudgeLLMModel
	}
	return c.LLMModel
}

// ArchiveEnabled meldet, ob das S3-Artikelarchiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
