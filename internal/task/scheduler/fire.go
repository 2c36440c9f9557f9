package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"challengebot/internal/challenge"
	"challengebot/internal/eventbus"
	"challengebot/internal/task/engine"
	logx "challengebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// DeliveryEvent is the payload of delivery.* bus events.
type DeliveryEvent struct {
	Job        string `json:"job"`
	ScheduleID int64  `json:"schedule_id"`
	ChannelID  string `json:"channel_id"`
	Error      string `json:"error,omitempty"`
}

// fire runs on the trigger goroutine. It never blocks: it checks that j is
// still the live job for its key and hands the delivery to the dispatcher.
func (s *Service) fire(j *job) {
	s.mu.Lock()
	live := s.jobs[j.key] == j
	s.mu.Unlock()
	if !live {
		s.log.Debug("stale trigger ignored", logx.String("job", j.key.String()))
		return
	}

	s.fired.Add(1)
	firedAt := s.now().In(s.loc)
	key, p := j.key, j.payload
	task := engine.Task{
		Name:    "deliver:" + key.String(),
		Timeout: s.cfg.DeliveryTimeout,
		Run: func(ctx context.Context) error {
			s.deliver(ctx, key, p, firedAt)
			return nil
		},
	}
	s.publish(eventbus.JobFired, DeliveryEvent{Job: key.String(), ScheduleID: p.ScheduleID, ChannelID: p.ChannelID})
	if err := s.disp.Enqueue(task); err != nil {
		s.enqueueErrors.Add(1)
		s.reportEnqueueError(key, err)
	}
}

// deliver renders and sends one firing. Nothing escapes it: errors and
// panics are logged with the schedule identity and dropped, and the job
// stays armed for the next day.
func (s *Service) deliver(ctx context.Context, key JobKey, p challenge.Payload, firedAt time.Time) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("delivery panicked", logx.String("job", key.String()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		text, err := challenge.Render(p, firedAt)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		if err := s.sender.Send(ctx, p.ChannelID, text); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}()

	ev := DeliveryEvent{Job: key.String(), ScheduleID: p.ScheduleID, ChannelID: p.ChannelID}
	if err != nil {
		s.failed.Add(1)
		ev.Error = err.Error()
		s.log.Warn("delivery failed",
			logx.String("job", key.String()),
			logx.Int64("schedule_id", p.ScheduleID),
			logx.String("channel", p.ChannelID),
			logx.Err(err),
		)
		s.publish(eventbus.DeliveryFailed, ev)
		return
	}
	s.sent.Add(1)
	s.log.Info("delivered", logx.String("job", key.String()), logx.Int64("schedule_id", p.ScheduleID), logx.String("channel", p.ChannelID))
	s.publish(eventbus.DeliverySent, ev)
}

func (s *Service) reportEnqueueError(key JobKey, err error) {
	now := s.now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	// Expected while the process shuts down.
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("trigger could not enqueue delivery", logx.String("job", key.String()), logx.Err(err))
		return
	}
	s.log.Warn("trigger could not enqueue delivery", logx.String("job", key.String()), logx.Err(err))
}

func (s *Service) forgetEnqueueWarn(key JobKey) {
	s.enqMu.Lock()
	delete(s.lastEnqWarn, key)
	s.enqMu.Unlock()
}
