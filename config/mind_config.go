package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	LogLevel    string

	// Storage
	DataDir string
	DBPath  string

	// Redis (optional assessment cache)
	RedisURL string

	// OpenAI
	OpenAIAPIKey  string
	LLMModel      string
	LLMMaxTokens  int
	LLMTimeout    time.Duration
	LLMMaxRetries int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Pipeline
	PullInterval     time.Duration
	PullBatchSize    int
	AnalyzerWorkers  int
	QueueSizeFactor  int // analyze queue = factor * workers
	ShutdownGrace    time.Duration
	ApplyRetryDelay  time.Duration
	PullBackoffInit  time.Duration
	PullBackoffMax   time.Duration

	// Decision thresholds
	PriorityThreshold    float64
	ArchiveThreshold     float64
	EscalationThreshold  float64
	ConfidenceThreshold  float64 // pattern promotion
	SemanticCacheTTL     time.Duration

	// Brief
	BriefCutoffLocal string // "HH:MM" local time after which the daily brief runs

	// Intelligence
	VIPAddresses    []string
	InternalDomains []string

	// API
	APIPort string
}

func Load() (*Config, error) {
	dataDir := getEnv("MAILMIND_DATA_DIR", defaultDataDir())

	return &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DataDir: dataDir,
		DBPath:  getEnv("MAILMIND_DB_PATH", filepath.Join(dataDir, "mailmind.db")),

		RedisURL: getEnv("REDIS_URL", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		LLMModel:      getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:  getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT_SEC", 30*time.Second),
		LLMMaxRetries: getEnvInt("LLM_MAX_RETRIES", 1),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8833/oauth/callback"),

		PullInterval:    getEnvDuration("PULL_INTERVAL_SEC", 5*time.Minute),
		PullBatchSize:   getEnvInt("PULL_BATCH_SIZE", 100),
		AnalyzerWorkers: getEnvInt("ANALYZER_WORKERS", runtime.NumCPU()),
		QueueSizeFactor: getEnvInt("ANALYZE_QUEUE_FACTOR", 4),
		ShutdownGrace:   getEnvDuration("SHUTDOWN_GRACE_SEC", 30*time.Second),
		ApplyRetryDelay: getEnvDuration("APPLY_RETRY_DELAY_SEC", 30*time.Second),
		PullBackoffInit: getEnvDuration("PULL_BACKOFF_INIT_SEC", 30*time.Second),
		PullBackoffMax:  getEnvDuration("PULL_BACKOFF_MAX_SEC", 600*time.Second),

		PriorityThreshold:   getEnvFloat("PRIORITY_THRESHOLD", 0.7),
		ArchiveThreshold:    getEnvFloat("ARCHIVE_THRESHOLD", 0.4),
		EscalationThreshold: getEnvFloat("ESCALATION_THRESHOLD", 0.7),
		ConfidenceThreshold: getEnvFloat("PATTERN_CONFIDENCE_THRESHOLD", 0.7),
		SemanticCacheTTL:    getEnvDuration("ANALYSIS_CACHE_TTL_SEC", 30*24*3600*time.Second),

		BriefCutoffLocal: getEnv("BRIEF_CUTOFF_LOCAL", "18:00"),

		VIPAddresses:    getEnvSlice("VIP_ADDRESSES", nil),
		InternalDomains: getEnvSlice("INTERNAL_DOMAINS", nil),

		APIPort: getEnv("API_PORT", "8833"),
	}, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailmind"
	}
	return filepath.Join(home, ".mailmind")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
