package app

import (
	"strings"
	"time"

	"challengebot/internal/config"
	"challengebot/internal/delivery"
	"challengebot/internal/storage"
	"challengebot/internal/task/engine"
	"challengebot/internal/task/scheduler"
	logx "challengebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:   cfg.Logging.Telegram.Enabled,
			ChatID:    cfg.AlertChatID(),
			MinLevel:  cfg.Logging.Telegram.MinLevel,
			PerMinute: cfg.Logging.Telegram.PerMinute,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	def, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: def,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout, config.DefaultDeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:        cfg.Scheduler.TimezoneOrDefault(),
		DeliveryTimeout: timeout,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{RatePerSec: cfg.Delivery.RatePerSec, Burst: cfg.Delivery.Burst}
}
