package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// IMAP
	IMAPAddr        string        `env:"IMAP_ADDR,required"` // host:port
	IMAPUsername    string        `env:"IMAP_USERNAME,required"`
	IMAPPassword    string        `env:"IMAP_PASSWORD,required"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPBatchSize   int           `env:"IMAP_BATCH_SIZE" envDefault:"50"`

	// Search
	SentFolders []string      `env:"SENT_FOLDERS" envDefault:"Sent Items,Sent,Send,Отправленные"`
	DaysBack    int           `env:"DAYS_BACK" envDefault:"14"`
	ReplyWindow time.Duration `env:"REPLY_WINDOW" envDefault:"720h"`

	// LLM
	LLMAPIURL      string        `env:"LLM_API_URL,required"`
	LLMModel       string        `env:"LLM_MODEL,required"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"90s"`
	LLMMaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"512"`
	LLMTemperature float64       `env:"LLM_TEMPERATURE" envDefault:"0"`
	LLMRetries     int           `env:"LLM_RETRY_ATTEMPTS" envDefault:"2"`

	// Retry
	RetryAttempts  int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`

	// Extraction
	TargetFields []string `env:"TARGET_FIELDS" envDefault:"Price usd,Price usd casino,Payment,Q,Comments"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/harvest.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DaysBack <= 0 {
		return nil, fmt.Errorf("DAYS_BACK must be positive, got %d", cfg.DaysBack)
	}
	if len(cfg.TargetFields) == 0 {
		return nil, fmt.Errorf("TARGET_FIELDS must not be empty")
	}

	return cfg, nil
}
