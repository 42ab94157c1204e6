package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port          string
		GRPCPort      string
		Env           string
		Timeout       time.Duration
		OpenAPISchema string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Pipeline configuration
	Pipeline struct {
		RateLimitMessages    int
		RateLimitWindow      time.Duration
		MinMessageLength     int
		MaxMessageLength     int
		SpamDetectionEnabled bool
		HistoryLimit         int
		DuplicateWindowSize  int
		Workers              int
		QueueSize            int
	}

	// AI configuration
	AI struct {
		Provider         string
		Model            string
		APIKey           string
		BaseURL          string
		Temperature      float64
		MaxTokens        int
		ResponseTimeout  time.Duration
		MaxRetries       int
		BackoffInitial   time.Duration
		BackoffMax       time.Duration
		CostPerToken     float64
		CircuitThreshold uint
		CircuitCooldown  time.Duration
	}

	// Cache settings
	Cache struct {
		TTL           time.Duration
		MaxSize       int
		SpamCacheSize int
	}

	// Responder configuration
	Responder struct {
		TemplateProbability float64
		ResponseStyle       string
		MinResponseLength   int
		MaxResponseLength   int
		TemplatesFile       string
		RandomSeed          int64
	}

	// Redis configuration
	Redis struct {
		Enabled   bool
		Addr      string
		Password  string
		DB        int
		KeyPrefix string
		TTL       time.Duration
	}

	// Database configuration
	Database struct {
		Enabled  bool
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		JWTSecret      string
		JWTExpiry      time.Duration
	}
}

// Load reads the .env file if present and returns a Config populated from the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := build(getEnvString, getEnvInt, getEnvInt64, getEnvFloat, getEnvBool, getEnvDuration, getEnvStringSlice)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration defaults without consulting the environment
func Default() *Config {
	return build(
		func(_ string, d string) string { return d },
		func(_ string, d int) int { return d },
		func(_ string, d int64) int64 { return d },
		func(_ string, d float64) float64 { return d },
		func(_ string, d bool) bool { return d },
		func(_ string, d time.Duration) time.Duration { return d },
		func(_ string, d []string) []string { return d },
	)
}

func build(
	str func(string, string) string,
	integer func(string, int) int,
	int64Val func(string, int64) int64,
	float func(string, float64) float64,
	boolean func(string, bool) bool,
	duration func(string, time.Duration) time.Duration,
	slice func(string, []string) []string,
) *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = str("PORT", "8081")
	cfg.Server.GRPCPort = str("GRPC_PORT", "9091")
	cfg.Server.Env = str("APP_ENV", "development")
	cfg.Server.Timeout = duration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.OpenAPISchema = str("OPENAPI_SCHEMA", "api/openapi.yaml")

	// Logging config
	cfg.Logging.Level = str("LOG_LEVEL", "info")
	cfg.Logging.Format = str("LOG_FORMAT", "json")

	// Pipeline config
	cfg.Pipeline.RateLimitMessages = integer("RATE_LIMIT_MESSAGES", 5)
	cfg.Pipeline.RateLimitWindow = time.Duration(integer("RATE_LIMIT_WINDOW_SECONDS", 300)) * time.Second
	cfg.Pipeline.MinMessageLength = integer("MIN_MESSAGE_LENGTH", 2)
	cfg.Pipeline.MaxMessageLength = integer("MAX_MESSAGE_LENGTH", 1000)
	cfg.Pipeline.SpamDetectionEnabled = boolean("SPAM_DETECTION_ENABLED", true)
	cfg.Pipeline.HistoryLimit = integer("HISTORY_LIMIT", 10)
	cfg.Pipeline.DuplicateWindowSize = integer("DUPLICATE_WINDOW_SIZE", 10000)
	cfg.Pipeline.Workers = integer("PIPELINE_WORKERS", 4)
	cfg.Pipeline.QueueSize = integer("PIPELINE_QUEUE_SIZE", 256)

	// AI config
	cfg.AI.Provider = str("AI_PROVIDER", "gemini")
	cfg.AI.Model = str("AI_MODEL", "gemini-1.5-flash")
	cfg.AI.APIKey = str("AI_API_KEY", "")
	cfg.AI.BaseURL = str("AI_BASE_URL", "")
	cfg.AI.Temperature = float("AI_TEMPERATURE", 0.7)
	cfg.AI.MaxTokens = integer("AI_MAX_TOKENS", 2048)
	cfg.AI.ResponseTimeout = time.Duration(integer("AI_RESPONSE_TIMEOUT_SECONDS", 30)) * time.Second
	cfg.AI.MaxRetries = integer("AI_MAX_RETRIES", 3)
	cfg.AI.BackoffInitial = duration("AI_BACKOFF_INITIAL", time.Second)
	cfg.AI.BackoffMax = duration("AI_BACKOFF_MAX", 16*time.Second)
	cfg.AI.CostPerToken = float("AI_COST_PER_TOKEN", 0.0001)
	cfg.AI.CircuitThreshold = uint(integer("AI_CIRCUIT_THRESHOLD", 5))
	cfg.AI.CircuitCooldown = duration("AI_CIRCUIT_COOLDOWN", 60*time.Second)

	// Cache settings
	cfg.Cache.TTL = time.Duration(integer("CACHE_TTL_SECONDS", 3600)) * time.Second
	cfg.Cache.MaxSize = integer("CACHE_MAX_SIZE", 500)
	cfg.Cache.SpamCacheSize = integer("SPAM_CACHE_SIZE", 10000)

	// Responder config
	cfg.Responder.TemplateProbability = float("TEMPLATE_PROBABILITY", 0.3)
	cfg.Responder.ResponseStyle = str("RESPONSE_STYLE", "friendly")
	cfg.Responder.MinResponseLength = integer("MIN_RESPONSE_LENGTH", 10)
	cfg.Responder.MaxResponseLength = integer("MAX_RESPONSE_LENGTH", 500)
	cfg.Responder.TemplatesFile = str("TEMPLATES_FILE", "")
	cfg.Responder.RandomSeed = int64Val("RANDOM_SEED", time.Now().UnixNano())

	// Redis config
	cfg.Redis.Enabled = boolean("REDIS_ENABLED", false)
	cfg.Redis.Addr = str("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = str("REDIS_PASSWORD", "")
	cfg.Redis.DB = integer("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = str("REDIS_KEY_PREFIX", "responder:sender:")
	cfg.Redis.TTL = duration("REDIS_TTL", 30*24*time.Hour)

	// Database config
	cfg.Database.Enabled = boolean("DB_ENABLED", false)
	cfg.Database.Host = str("DB_HOST", "localhost")
	cfg.Database.Port = str("DB_PORT", "5432")
	cfg.Database.User = str("DB_USER", "postgres")
	cfg.Database.Password = str("DB_PASSWORD", "postgres")
	cfg.Database.Name = str("DB_NAME", "marketplace-responder")
	cfg.Database.SSLMode = str("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = integer("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = duration("DB_TIMEOUT", 5*time.Second)

	// Security config
	cfg.Security.RateLimit = float("HTTP_RATE_LIMIT", 20)
	cfg.Security.RateLimitBurst = integer("HTTP_RATE_LIMIT_BURST", 40)
	cfg.Security.AllowedOrigins = slice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.JWTSecret = str("JWT_SECRET", "")
	cfg.Security.JWTExpiry = duration("JWT_EXPIRY", 24*time.Hour)

	return cfg
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Pipeline.RateLimitMessages <= 0:
		return fmt.Errorf("RATE_LIMIT_MESSAGES must be positive, got %d", c.Pipeline.RateLimitMessages)
	case c.Pipeline.RateLimitWindow <= 0:
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	case c.Pipeline.MinMessageLength < 1:
		return fmt.Errorf("MIN_MESSAGE_LENGTH must be at least 1, got %d", c.Pipeline.MinMessageLength)
	case c.Pipeline.MinMessageLength > c.Pipeline.MaxMessageLength:
		return fmt.Errorf("MIN_MESSAGE_LENGTH (%d) exceeds MAX_MESSAGE_LENGTH (%d)",
			c.Pipeline.MinMessageLength, c.Pipeline.MaxMessageLength)
	case c.Pipeline.HistoryLimit <= 0:
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.Pipeline.HistoryLimit)
	case c.AI.Temperature < 0 || c.AI.Temperature > 2:
		return fmt.Errorf("AI_TEMPERATURE out of range: %v", c.AI.Temperature)
	case c.AI.MaxTokens <= 0:
		return fmt.Errorf("AI_MAX_TOKENS must be positive, got %d", c.AI.MaxTokens)
	case c.AI.ResponseTimeout <= 0:
		return fmt.Errorf("AI_RESPONSE_TIMEOUT_SECONDS must be positive")
	case c.AI.MaxRetries < 0:
		return fmt.Errorf("AI_MAX_RETRIES must not be negative, got %d", c.AI.MaxRetries)
	case c.Cache.MaxSize <= 0:
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.Cache.MaxSize)
	case c.Responder.TemplateProbability < 0 || c.Responder.TemplateProbability > 1:
		return fmt.Errorf("TEMPLATE_PROBABILITY must be within [0,1], got %v", c.Responder.TemplateProbability)
	case c.Responder.MinResponseLength > c.Responder.MaxResponseLength:
		return fmt.Errorf("MIN_RESPONSE_LENGTH exceeds MAX_RESPONSE_LENGTH")
	case c.Responder.MaxResponseLength < 4:
		return fmt.Errorf("MAX_RESPONSE_LENGTH must be at least 4, got %d", c.Responder.MaxResponseLength)
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return defaultValue
}
