package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Storage    StorageConfig    `json:"storage"`
}

type TelegramConfig struct {
	// Token may be left empty when BOT_TOKEN is set in the environment.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`

	// HandlerWorkers bounds concurrent update handling. Default 8.
	HandlerWorkers int `json:"handler_workers,omitempty"`
	// SessionTTL drops idle conversations. Default "30m".
	SessionTTL string `json:"session_ttl,omitempty"`
	// SupportContact is shown in the /start greeting, e.g. "@admin".
	SupportContact string `json:"support_contact,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors into a chat.
// ChatID defaults to the first owner.
type LoggingTelegram struct {
	Enabled   bool   `json:"enabled"`
	ChatID    int64  `json:"chat_id,omitempty"`
	MinLevel  string `json:"min_level"`
	PerMinute int    `json:"per_minute"`
}

// SchedulerConfig controls the daily trigger service.
//
// Defaults:
//   - timezone: "Asia/Tashkent"
//   - delivery_timeout: "30s"
type SchedulerConfig struct {
	Timezone        string `json:"timezone"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs deliveries.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops deliveries that waited in the queue longer than this.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// DeliveryConfig limits outgoing channel posts. Telegram allows roughly
// 30 messages per second across chats.
type DeliveryConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
