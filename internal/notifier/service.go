package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"medremind/internal/eventbus"
	"medremind/internal/reminder"
	"medremind/internal/task/engine"
	logx "medremind/pkg/logx"
)

// Service is the notification dispatcher. It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	sender    Sender
	newSender func(SMTPConfig) Sender
	limiter   *rate.Limiter

	log logx.Logger
	bus eventbus.Bus

	dmu       sync.Mutex
	delivered map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

// WithSender replaces the SMTP transport, e.g. in tests.
func WithSender(snd Sender) Option {
	return func(s *Service) {
		s.newSender = func(SMTPConfig) Sender { return snd }
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log,
		bus:       bus,
		newSender: NewSMTPSender,
		delivered: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.SMTP.Port <= 0 {
		cfg.SMTP.Port = 587
	}
	cfg.SMTP.Host = strings.TrimSpace(cfg.SMTP.Host)

	if s.sender == nil || s.cfg.SMTP != cfg.SMTP {
		s.sender = s.newSender(cfg.SMTP)
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a cluster of same-minute firings
	// drains without stalling.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Degraded reports whether firings are being logged and skipped.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Enabled || !s.cfg.SMTP.Configured()
}

// Dispatch delivers one firing. A nil return means sent, skipped in degraded
// mode, or suppressed as a duplicate.
func (s *Service) Dispatch(ctx context.Context, n reminder.Notice) error {
	s.mu.Lock()
	cfg, snd, lim := s.cfg, s.sender, s.limiter
	s.mu.Unlock()

	item := HistoryItem{
		At:         time.Now(),
		DispatchID: uuid.NewString(),
		JobID:      n.JobID,
		Address:    n.Address,
		Medication: n.Medication,
	}

	if !cfg.Enabled || !cfg.SMTP.Configured() {
		s.log.Info("smtp not configured; skipping email", logx.String("address", n.Address), logx.String("medication", n.Medication))
		item.Status = StatusSkipped
		s.finish(eventbus.TypeReminderSkipped, item)
		return nil
	}

	if cfg.DedupWindow > 0 && !s.dedupAllow(dedupKey(n), item.At, cfg.DedupWindow) {
		s.log.Debug("duplicate firing suppressed", logx.String("job", n.JobID))
		item.Status = StatusDeduped
		s.finish(eventbus.TypeReminderSkipped, item)
		return nil
	}

	if err := lim.Wait(ctx); err != nil {
		return s.failed(item, n, err)
	}

	msg, err := render(cfg.SMTP, n)
	if err != nil {
		return s.failed(item, n, engine.NoRetry(err))
	}
	if err := snd.Send(ctx, msg); err != nil {
		return s.failed(item, n, err)
	}

	item.Status = StatusSent
	s.log.Info("email sent", logx.String("address", n.Address), logx.String("medication", n.Medication), logx.String("time", n.Time))
	s.finish(eventbus.TypeReminderDispatched, item)
	return nil
}

func (s *Service) failed(item HistoryItem, n reminder.Notice, err error) error {
	s.dedupForget(dedupKey(n))
	item.Status = StatusFailed
	item.Error = err.Error()
	s.log.Warn("email failed",
		logx.String("address", n.Address),
		logx.String("medication", n.Medication),
		logx.Bool("permanent", engine.IsNoRetry(err)),
		logx.Err(err),
	)
	s.finish(eventbus.TypeReminderDispatchFailed, item)
	wrapped := fmt.Errorf("%w: %s: %w", reminder.ErrDispatch, n.Address, err)
	if engine.IsNoRetry(err) {
		return engine.NoRetry(wrapped)
	}
	return wrapped
}

func (s *Service) finish(typ string, item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: item.At, Data: item})
	}
}

// dedupKey identifies one scheduled slot. A reminder moved to another time
// inside the window is a new slot, not a duplicate.
func dedupKey(n reminder.Notice) string {
	return n.JobID + "|" + n.Time + "|" + n.Timezone
}

// dedupAllow records a delivery slot for key and reports whether it is free.
func (s *Service) dedupAllow(key string, now time.Time, window time.Duration) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.delivered[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.delivered {
		if !now.Before(until) {
			delete(s.delivered, k)
		}
	}
	s.delivered[key] = now.Add(window)
	return true
}

// dedupForget frees the slot so an engine retry is not mistaken for a duplicate.
func (s *Service) dedupForget(key string) {
	s.dmu.Lock()
	delete(s.delivered, key)
	s.dmu.Unlock()
}

// History returns recent delivery outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
