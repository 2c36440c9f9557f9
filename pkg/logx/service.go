package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards log lines at or above MinLevel to a chat.
type AlertConfig struct {
	Enabled   bool
	ChatID    int64
	MinLevel  string
	PerMinute int
}

// AlertSender delivers one formatted alert line. The Telegram adapter
// satisfies it; it is an interface so logx stays free of transport imports.
type AlertSender interface {
	SendAlert(ctx context.Context, chatID int64, text string) error
}

// Service owns the process sinks. Apply may be called at any time; loggers
// handed out earlier switch to the new sinks on their next write.
type Service struct {
	mu   sync.Mutex
	root atomic.Value // zerolog.Logger
	file *os.File

	sender   AlertSender
	alerts   chan alertLine
	startAlt sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

type alertLine struct {
	chatID int64
	text   string
}

// NewService applies cfg right away and returns the service with its root logger.
func NewService(cfg Config, sender AlertSender) (*Service, Logger) {
	configureGlobals()
	s := &Service{
		sender: sender,
		alerts: make(chan alertLine, 128),
	}
	s.root.Store(zerolog.New(consoleWriter(os.Stdout)).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl, ok := s.root.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

// SetAlertSender attaches the sender once the transport exists. The log
// service is created before the adapter so the adapter can log.
func (s *Service) SetAlertSender(sender AlertSender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	s.chatID = cfg.Alert.ChatID
	s.minLevel = ParseLevel(cfg.Alert.MinLevel, zerolog.WarnLevel)
	perMin := cfg.Alert.PerMinute
	if perMin <= 0 {
		perMin = 20
	}
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 3)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./challengebot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Alert.Enabled && cfg.Alert.ChatID != 0 {
		s.startAlt.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.alertLoop(ctx)
			}()
		})
		writers = append(writers, alertWriter{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) alertLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.alerts:
			s.mu.Lock()
			sender := s.sender
			s.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = sender.SendAlert(sctx, a.chatID, a.text)
			cancel()
		}
	}
}

type alertWriter struct{ svc *Service }

func (w alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID, minLevel, lim := s.chatID, s.minLevel, s.limiter
	s.mu.Unlock()

	if chatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := formatAlert(p)
	if text == "" {
		return len(p), nil
	}
	// Dropped when the queue is full; logging must never block.
	select {
	case s.alerts <- alertLine{chatID: chatID, text: text}:
	default:
	}
	return len(p), nil
}

// formatAlert turns a zerolog JSON line into a short human-readable message.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), 3500)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=" + clip(fmt.Sprint(m[k]), 600))
	}
	return clip(b.String(), 3500)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
