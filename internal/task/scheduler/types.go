package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"challengebot/internal/challenge"
	"challengebot/internal/task/engine"
)

var ErrStopped = errors.New("scheduler stopped")

type Config struct {
	// Timezone is an IANA name; empty means the host zone.
	Timezone string
	// DeliveryTimeout bounds one render+send. 0 means 30s.
	DeliveryTimeout time.Duration
}

// Sender delivers rendered text to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Dispatcher runs tasks off the trigger goroutine. *engine.Service
// satisfies it.
type Dispatcher interface {
	Enqueue(t engine.Task) error
}

// trigger is the subset of *cron.Cron the service drives. Tests swap in a
// manual clock.
type trigger interface {
	Schedule(s cron.Schedule, j cron.Job) cron.EntryID
	Remove(id cron.EntryID)
	Entry(id cron.EntryID) cron.Entry
	Start()
	Stop() context.Context
}

// JobKey addresses a job.
type JobKey struct {
	OwnerID   int64
	ChannelID string
	TimeOfDay string
}

func (k JobKey) String() string {
	return fmt.Sprintf("%d_%s_%s", k.OwnerID, k.ChannelID, k.TimeOfDay)
}

// KeyOf derives the job key of a stored schedule.
func KeyOf(rec challenge.Schedule) JobKey {
	return JobKey{OwnerID: rec.OwnerID, ChannelID: trim(rec.ChannelID), TimeOfDay: trim(rec.TimeOfDay)}
}

type job struct {
	key     JobKey
	payload challenge.Payload
	hour    int
	minute  int
	entryID cron.EntryID
}

// JobInfo describes one armed job.
type JobInfo struct {
	Key     JobKey
	Payload challenge.Payload
	Next    time.Time
	Prev    time.Time
}

type Stats struct {
	Timezone      string
	Jobs          int
	Fired         uint64
	Sent          uint64
	Failed        uint64
	EnqueueErrors uint64
}
