// Package delivery posts rendered schedule text to channels through the
// chat transport, under a global send rate limit.
package delivery

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	kit "challengebot/internal/transport"
	logx "challengebot/pkg/logx"
)

// TextSender is the part of transport.Adapter used for posting.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	RatePerSec float64
	Burst      int
}

// Sender implements scheduler.Sender.
type Sender struct {
	tx      TextSender
	limiter *rate.Limiter
	log     logx.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(tx TextSender, cfg Config, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	lim, burst := limits(cfg)
	return &Sender{tx: tx, limiter: rate.NewLimiter(lim, burst), log: log}
}

func limits(cfg Config) (rate.Limit, int) {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 25
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return rate.Limit(perSec), burst
}

// SetLimits applies new limits without dropping waiters.
func (s *Sender) SetLimits(cfg Config) {
	lim, burst := limits(cfg)
	s.limiter.SetLimit(lim)
	s.limiter.SetBurst(burst)
	s.log.Info("delivery limits updated", logx.Any("rate_per_sec", float64(lim)), logx.Int("burst", burst))
}

// Send posts text to channelID ("@name" or a numeric chat id). It waits for
// the limiter, so ctx bounds the whole attempt.
func (s *Sender) Send(ctx context.Context, channelID, text string) error {
	to, err := kit.ParseTarget(channelID)
	if err != nil {
		s.failed.Add(1)
		return fmt.Errorf("channel %q: %w", channelID, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if _, err := s.tx.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		s.failed.Add(1)
		return err
	}
	s.sent.Add(1)
	return nil
}

type Stats struct {
	Sent   uint64
	Failed uint64
}

func (s *Sender) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}
