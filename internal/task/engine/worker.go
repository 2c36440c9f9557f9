package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"challengebot/internal/eventbus"
	logx "challengebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	delay := max(start.Sub(qt.enqueuedAt), 0)
	t := qt.task

	if limit := s.cfg.MaxQueueDelay; limit > 0 && delay > limit {
		s.onStale(t, delay)
		return
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := runTask(runCtx, t, s.log)
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: delay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.failed.Add(1)
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFailed, TaskEvent{ID: t.ID, Name: t.Name, QueueDelay: delay, Duration: dur, Error: item.Error})
	} else {
		s.completed.Add(1)
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", delay), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFinished, TaskEvent{ID: t.ID, Name: t.Name, QueueDelay: delay, Duration: dur})
	}
	s.record(item)
}

// runTask turns a panic into an error so a bad task cannot take a worker down.
func runTask(ctx context.Context, t Task, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}
