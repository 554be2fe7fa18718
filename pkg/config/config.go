package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Everything comes from the environment;
// a .env file next to the binary is loaded first if present.
type Config struct {
	BotToken string  `env:"BOT_TOKEN,required,notEmpty"`
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	DBPath   string `env:"DB_PATH" envDefault:"anonchat.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Polling and dispatch.
	PollTimeoutSeconds int           `env:"POLL_TIMEOUT_SECONDS" envDefault:"30"`
	PollLimit          int           `env:"POLL_LIMIT" envDefault:"100"`
	DedupWindow        int           `env:"DEDUP_WINDOW" envDefault:"1024"`
	PoolSize           int           `env:"POOL_SIZE" envDefault:"32"`
	LaneBuffer         int           `env:"LANE_BUFFER" envDefault:"16"`
	OutboundBuffer     int           `env:"OUTBOUND_BUFFER" envDefault:"256"`
	HandlerTimeout     time.Duration `env:"HANDLER_TIMEOUT" envDefault:"30s"`
	ShutdownGrace      time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	// Backoff on transport failures.
	BackoffBase            time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCeiling         time.Duration `env:"BACKOFF_CEILING" envDefault:"60s"`
	MaxConsecutiveFailures int           `env:"MAX_CONSECUTIVE_FAILURES" envDefault:"10"`

	// Spam protection.
	MaxMessagesPerMinute int           `env:"MAX_MESSAGES_PER_MINUTE" envDefault:"20"`
	CommandCooldown      time.Duration `env:"COMMAND_COOLDOWN" envDefault:"3s"`

	// Maintenance sweeper.
	SweepCron       string        `env:"SWEEP_CRON" envDefault:"*/10 * * * *"`
	QueueStaleAfter time.Duration `env:"QUEUE_STALE_AFTER" envDefault:"30m"`
	ReportTTL       time.Duration `env:"REPORT_TTL" envDefault:"720h"`
}

// Load reads the configuration from the environment. A missing .env file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("POLL_TIMEOUT_SECONDS must be positive, got %d", c.PollTimeoutSeconds)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("POOL_SIZE must be positive, got %d", c.PoolSize)
	}
	if c.BackoffBase <= 0 || c.BackoffCeiling < c.BackoffBase {
		return fmt.Errorf("invalid backoff window: base=%s ceiling=%s", c.BackoffBase, c.BackoffCeiling)
	}
	return nil
}

// IsAdmin reports whether the given user is listed in ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
