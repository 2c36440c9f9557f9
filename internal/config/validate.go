package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultTimezone        = "Asia/Tashkent"
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultSessionTTL      = 30 * time.Minute
	DefaultPollTimeout     = 10 * time.Second
	DefaultHandlerWorkers  = 8
	DefaultRatePerSec      = 25
	DefaultBurst           = 5
)

// TokenEnv overrides telegram.token when set.
const TokenEnv = "BOT_TOKEN"

// ApplyEnv copies environment overrides into cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		cfg.Telegram.Token = tok
	}
}

// Validate checks the fields that would otherwise fail at wiring time.
// It matches the ConfigManager validator signature.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", TokenEnv))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"telegram.session_ttl":        cfg.Telegram.SessionTTL,
		"scheduler.delivery_timeout":  cfg.Scheduler.DeliveryTimeout,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"task_engine.max_queue_delay": cfg.TaskEngine.MaxQueueDelay,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		errs = append(errs, errors.New("task_engine: sizes must be >= 0"))
	}
	if cfg.Delivery.RatePerSec < 0 || cfg.Delivery.Burst < 0 {
		errs = append(errs, errors.New("delivery: rate_per_sec and burst must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	return errors.Join(errs...)
}

// TimezoneOrDefault returns the configured zone name or the default.
func (c SchedulerConfig) TimezoneOrDefault() string {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// AlertChatID is the chat receiving mirrored log lines.
func (c *Config) AlertChatID() int64 {
	if c.Logging.Telegram.ChatID != 0 {
		return c.Logging.Telegram.ChatID
	}
	if len(c.Telegram.OwnerUserIDs) > 0 {
		return c.Telegram.OwnerUserIDs[0]
	}
	return 0
}

func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
