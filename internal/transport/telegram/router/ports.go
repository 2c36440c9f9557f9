package router

import (
	"time"

	"challengebot/internal/challenge"
	"challengebot/internal/task/engine"
	"challengebot/internal/task/scheduler"
)

// SchedulerPort is the part of *scheduler.Service the chat flow drives.
type SchedulerPort interface {
	Register(rec challenge.Schedule) error
	Unregister(ownerID int64, channelID, timeOfDay string) bool
	// Now returns the current time in the bot timezone.
	Now() time.Time
	Snapshot() scheduler.Stats
}

// EnginePort exposes the task engine counters for /status.
type EnginePort interface {
	Snapshot() engine.Snapshot
}
