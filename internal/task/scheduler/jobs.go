package scheduler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"challengebot/internal/challenge"
	"challengebot/internal/eventbus"
	logx "challengebot/pkg/logx"
)

// Register arms a daily job for rec, replacing any job under the same key.
// The payload is captured now; later changes to the stored record need a
// new Register.
func (s *Service) Register(rec challenge.Schedule) error {
	hour, minute, err := challenge.ParseTimeOfDay(rec.TimeOfDay)
	if err != nil {
		return fmt.Errorf("register schedule %d: %w", rec.ID, err)
	}
	sched, err := s.daily(hour, minute)
	if err != nil {
		return fmt.Errorf("register schedule %d: %w", rec.ID, err)
	}

	key := KeyOf(rec)
	j := &job{key: key, payload: challenge.NewPayload(rec), hour: hour, minute: minute}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if old, ok := s.jobs[key]; ok {
		s.trig.Remove(old.entryID)
		if old.payload.ScheduleID != j.payload.ScheduleID {
			s.log.Warn("job replaced by another schedule with the same owner, channel and time",
				logx.String("job", key.String()),
				logx.Int64("old_schedule_id", old.payload.ScheduleID),
				logx.Int64("schedule_id", j.payload.ScheduleID),
			)
		}
	}
	j.entryID = s.trig.Schedule(sched, cron.FuncJob(func() { s.fire(j) }))
	s.jobs[key] = j

	s.log.Debug("job registered",
		logx.String("job", key.String()),
		logx.Int64("schedule_id", rec.ID),
		logx.Bool("with_date", j.payload.WithDate),
		logx.Time("next", sched.Next(s.now()).In(s.loc)),
	)
	s.publish(eventbus.JobRegistered, key)
	return nil
}

// Unregister disarms the job under the key. It reports whether one existed;
// a miss is not an error.
func (s *Service) Unregister(ownerID int64, channelID, timeOfDay string) bool {
	key := JobKey{OwnerID: ownerID, ChannelID: trim(channelID), TimeOfDay: trim(timeOfDay)}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		s.log.Warn("unregister: no such job", logx.String("job", key.String()))
		return false
	}
	s.trig.Remove(j.entryID)
	delete(s.jobs, key)
	s.forgetEnqueueWarn(key)
	s.log.Debug("job removed", logx.String("job", key.String()), logx.Int64("schedule_id", j.payload.ScheduleID))
	s.publish(eventbus.JobRemoved, key)
	return true
}

// Rebuild registers every record, in order, so colliding keys end with the
// last record. A bad record is skipped; all failures come back joined.
func (s *Service) Rebuild(recs []challenge.Schedule) (int, error) {
	var errs []error
	ok := 0
	for _, rec := range recs {
		if err := s.Register(rec); err != nil {
			if errors.Is(err, ErrStopped) {
				return ok, err
			}
			s.log.Error("rebuild: schedule skipped", logx.Int64("schedule_id", rec.ID), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		ok++
	}

	s.mu.Lock()
	armed := len(s.jobs)
	s.mu.Unlock()
	s.log.Info("jobs rebuilt", logx.Int("records", len(recs)), logx.Int("registered", ok), logx.Int("armed", armed))
	return ok, errors.Join(errs...)
}

// Jobs lists armed jobs ordered by key.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.trig.Entry(j.entryID)
		out = append(out, JobInfo{Key: j.key, Payload: j.payload, Next: e.Next, Prev: e.Prev})
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Key.String() < out[b].Key.String() })
	return out
}

func (s *Service) daily(hour, minute int) (cron.Schedule, error) {
	sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, err
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = s.loc
	}
	return sched, nil
}
