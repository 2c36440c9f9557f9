package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"challengebot/internal/challenge"
	logx "challengebot/pkg/logx"
)

// fileStore keeps everything in memory and, when path is set, rewrites a JSON
// snapshot after each mutation (write to <path>.tmp, then rename).
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
	data   snapshot
}

type snapshot struct {
	NextChannelID  int64                `json:"next_channel_id"`
	NextScheduleID int64                `json:"next_schedule_id"`
	Users          map[int64]User       `json:"users"`
	Channels       []Channel            `json:"channels"`
	Schedules      []challenge.Schedule `json:"schedules"`
}

func openFile(path string, log logx.Logger) (Store, error) {
	path = strings.TrimSpace(path)
	s := &fileStore{log: log, path: path, data: snapshot{Users: map[int64]User{}}}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &s.data); err != nil {
			return nil, err
		}
		if s.data.Users == nil {
			s.data.Users = map[int64]User{}
		}
	}
	log.Info("storage opened", logx.String("driver", "file"), logx.String("path", path))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// persistLocked writes the snapshot. Caller holds mu.
func (s *fileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) UpsertUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.data.Users[u.ID]; ok {
		old.Username = u.Username
		s.data.Users[u.ID] = old
	} else {
		if u.FirstSeen.IsZero() {
			u.FirstSeen = time.Now()
		}
		u.FirstSeen = time.Unix(u.FirstSeen.Unix(), 0)
		s.data.Users[u.ID] = u
	}
	return s.persistLocked()
}

func (s *fileStore) AddChannel(ctx context.Context, ch Channel) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Channel{}, ErrClosed
	}
	for i, c := range s.data.Channels {
		if c.OwnerID == ch.OwnerID && c.ChannelID == ch.ChannelID {
			s.data.Channels[i].Title = ch.Title
			return s.data.Channels[i], s.persistLocked()
		}
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	ch.CreatedAt = time.Unix(ch.CreatedAt.Unix(), 0)
	s.data.NextChannelID++
	ch.ID = s.data.NextChannelID
	s.data.Channels = append(s.data.Channels, ch)
	return ch, s.persistLocked()
}

func (s *fileStore) ListChannels(ctx context.Context, ownerID int64) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Channel
	for _, c := range s.data.Channels {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fileStore) GetChannel(ctx context.Context, id int64) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Channel{}, ErrClosed
	}
	for _, c := range s.data.Channels {
		if c.ID == id {
			return c, nil
		}
	}
	return Channel{}, ErrNotFound
}

func (s *fileStore) DeleteChannel(ctx context.Context, id int64) ([]challenge.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	idx := -1
	for i, c := range s.data.Channels {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	ch := s.data.Channels[idx]
	s.data.Channels = append(s.data.Channels[:idx], s.data.Channels[idx+1:]...)

	var removed []challenge.Schedule
	kept := s.data.Schedules[:0]
	for _, rec := range s.data.Schedules {
		if rec.OwnerID == ch.OwnerID && rec.ChannelID == ch.ChannelID {
			removed = append(removed, rec)
			continue
		}
		kept = append(kept, rec)
	}
	s.data.Schedules = kept
	return removed, s.persistLocked()
}

func (s *fileStore) CreateSchedule(ctx context.Context, rec challenge.Schedule) (challenge.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return challenge.Schedule{}, ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = time.Unix(rec.CreatedAt.Unix(), 0)
	if strings.TrimSpace(rec.StartDate) == "" {
		rec.StartDate = challenge.DefaultStartDate
	}
	rec.EndDate = strings.TrimSpace(rec.EndDate)
	s.data.NextScheduleID++
	rec.ID = s.data.NextScheduleID
	s.data.Schedules = append(s.data.Schedules, rec)
	return rec, s.persistLocked()
}

func (s *fileStore) ListSchedules(ctx context.Context) ([]challenge.Schedule, error) {
	return s.filterSchedules(func(challenge.Schedule) bool { return true })
}

func (s *fileStore) ListSchedulesByOwner(ctx context.Context, ownerID int64) ([]challenge.Schedule, error) {
	return s.filterSchedules(func(rec challenge.Schedule) bool { return rec.OwnerID == ownerID })
}

func (s *fileStore) filterSchedules(keep func(challenge.Schedule) bool) ([]challenge.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []challenge.Schedule
	for _, rec := range s.data.Schedules {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetSchedule(ctx context.Context, id int64) (challenge.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return challenge.Schedule{}, ErrClosed
	}
	for _, rec := range s.data.Schedules {
		if rec.ID == id {
			return rec, nil
		}
	}
	return challenge.Schedule{}, ErrNotFound
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i, rec := range s.data.Schedules {
		if rec.ID == id {
			s.data.Schedules = append(s.data.Schedules[:i], s.data.Schedules[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrNotFound
}
