package config

import (
	"reflect"
	"sort"
	"strings"

	logx "challengebot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// attrs for logging. Secrets (token, dsn) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.HandlerWorkers != nt.HandlerWorkers ||
		strings.TrimSpace(ot.SessionTTL) != strings.TrimSpace(nt.SessionTTL) ||
		ot.SupportContact != nt.SupportContact {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.TimezoneOrDefault()),
			logx.String("scheduler.delivery_timeout", strings.TrimSpace(newCfg.Scheduler.DeliveryTimeout)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Any("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Int("delivery.burst", newCfg.Delivery.Burst),
		)
	}

	ns := newCfg.Storage
	if oldCfg.Storage != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(ns.DSN) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections whose change only takes effect after a
// restart. Logging and delivery are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "delivery":
		default:
			out = append(out, s)
		}
	}
	return out
}
