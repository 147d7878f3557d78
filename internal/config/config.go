// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Lanes and providers
	CloudLaneEnabled bool
	OllamaBaseURL    string
	OllamaModel      string
	AnthropicAPIKey  string
	AnthropicModel   string
	BedrockModelID   string
	MaxTokens        int
	DefaultStrategy  string

	// Orchestration envelope
	AskTimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetrievalTopK  int

	// Breakers (shared by both lanes)
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Budget
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64

	// Infrastructure
	RunbookDir      string
	RedisURL        string
	DatabaseURL     string
	CacheTTL        time.Duration
	OTLPEndpoint    string
	AWSRegion       string
	SNSTopicArn     string
	SQSQueueURL     string
	SecretsEnabled  bool
	EncryptionKey   string
	AdminUser       string
	AdminPassHash   string
	ViewerUser      string
	ViewerPassHash  string
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CloudLaneEnabled: getBoolEnv("ENABLE_CLOUD_LANE", false),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", "llama3"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0"),
		MaxTokens:        getIntEnv("MAX_TOKENS", 1024),
		DefaultStrategy:  getEnv("ROUTING_STRATEGY", "balanced"),

		AskTimeout:     getDurationEnv("ASK_TIMEOUT", 12*time.Second),
		MaxRetries:     getIntEnv("MAX_RETRIES", 1),
		RetryBaseDelay: getDurationEnv("RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryMaxDelay:  getDurationEnv("RETRY_MAX_DELAY", 2*time.Second),
		RetrievalTopK:  getIntEnv("RETRIEVAL_TOP_K", 5),

		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerSuccessThreshold: getIntEnv("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerRecoveryTimeout:  getDurationEnv("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),

		DailyBudgetUSD:   getFloatEnv("DAILY_BUDGET_USD", 10.0),
		MonthlyBudgetUSD: getFloatEnv("MONTHLY_BUDGET_USD", 100.0),

		RunbookDir:      getEnv("RUNBOOK_DIR", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		CacheTTL:        getDurationEnv("CACHE_TTL", 5*time.Minute),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:       getEnv("AWS_REGION", ""),
		SNSTopicArn:     getEnv("SNS_TOPIC_ARN", ""),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),
		SecretsEnabled:  getBoolEnv("SECRETS_ENABLED", false),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		AdminUser:       getEnv("ADMIN_USER", ""),
		AdminPassHash:   getEnv("ADMIN_PASS_HASH", ""),
		ViewerUser:      getEnv("VIEWER_USER", ""),
		ViewerPassHash:  getEnv("VIEWER_PASS_HASH", ""),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "true", "1", "yes":
		return true
	}
	return false
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
