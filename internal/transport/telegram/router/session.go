package router

import (
	"sync"
	"time"
)

// State is the step of a multi-message conversation.
type State string

const (
	StateIdle         State = ""
	StateLinkChannel  State = "link_channel"
	StatePickChannel  State = "send_pick_channel"
	StateEnterMessage State = "send_message"
	StateEnterTime    State = "send_time"
	StateConfirmDate  State = "send_confirm_date"
	StateEnterEndDate State = "send_end_date"
)

// Draft collects the answers of the /send conversation.
type Draft struct {
	ChannelID    string
	ChannelTitle string
	Message      string
	TimeOfDay    string
	WithDate     bool
}

// Session is one user's conversation state. A session is held by exactly
// one handler at a time, so updates of one user are handled in order.
type Session struct {
	mu       sync.Mutex
	UserID   int64
	State    State
	Draft    Draft
	lastSeen time.Time
}

func (s *Session) Reset() {
	s.State = StateIdle
	s.Draft = Draft{}
}

// Sessions keeps per-user conversation state in memory. Idle sessions
// expire after ttl.
type Sessions struct {
	mu  sync.Mutex
	m   map[int64]*Session
	ttl time.Duration
	now func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{m: map[int64]*Session{}, ttl: ttl, now: time.Now}
}

// Acquire returns the user's session, locked. An expired conversation is
// reset first. Callers must Release it.
func (s *Sessions) Acquire(userID int64) *Session {
	var sess *Session
	for {
		s.mu.Lock()
		cur, ok := s.m[userID]
		if !ok {
			cur = &Session{UserID: userID}
			s.m[userID] = cur
		}
		s.mu.Unlock()

		cur.mu.Lock()
		s.mu.Lock()
		live := s.m[userID] == cur
		s.mu.Unlock()
		if live {
			sess = cur
			break
		}
		// Swept while we waited for it.
		cur.mu.Unlock()
	}

	now := s.now()
	if s.ttl > 0 && !sess.lastSeen.IsZero() && now.Sub(sess.lastSeen) > s.ttl {
		sess.Reset()
	}
	sess.lastSeen = now
	return sess
}

func (s *Sessions) Release(sess *Session) {
	sess.mu.Unlock()
}

// Sweep drops idle sessions that nobody holds and returns how many.
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.m {
		if !sess.mu.TryLock() {
			continue
		}
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.m, id)
			n++
		}
		sess.mu.Unlock()
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
