// Package storage persists users, linked channels and schedules.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": PostgreSQL through lib/pq
//   - "file": dependency-free JSON snapshot
//   - "memory": the file driver without a file, for tests and dry runs
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"challengebot/internal/challenge"
	logx "challengebot/pkg/logx"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

type Config struct {
	Driver      string
	Path        string // sqlite and file drivers
	DSN         string // postgres
	BusyTimeout time.Duration
}

type User struct {
	ID        int64
	Username  string
	FirstSeen time.Time
}

// Channel is a chat linked by an owner as a posting target.
type Channel struct {
	ID        int64
	OwnerID   int64
	ChannelID string
	Title     string
	CreatedAt time.Time
}

// Store is the persistence API used by the app and the chat flow.
type Store interface {
	UpsertUser(ctx context.Context, u User) error

	// AddChannel links a channel, updating the title when the owner already
	// linked it.
	AddChannel(ctx context.Context, ch Channel) (Channel, error)
	ListChannels(ctx context.Context, ownerID int64) ([]Channel, error)
	GetChannel(ctx context.Context, id int64) (Channel, error)
	// DeleteChannel removes the channel and the owner's schedules for it and
	// returns those schedules so their jobs can be disarmed.
	DeleteChannel(ctx context.Context, id int64) ([]challenge.Schedule, error)

	CreateSchedule(ctx context.Context, s challenge.Schedule) (challenge.Schedule, error)
	ListSchedules(ctx context.Context) ([]challenge.Schedule, error)
	ListSchedulesByOwner(ctx context.Context, ownerID int64) ([]challenge.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (challenge.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error

	Close() error
}

func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage.path is required for the file driver")
		}
		return openFile(cfg.Path, log)
	case "memory":
		return openFile("", log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
