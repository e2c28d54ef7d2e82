package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"medremind/internal/task/engine"
	logx "medremind/pkg/logx"
)

// ErrInvalidTimezone is returned when a trigger names an unknown IANA zone.
var ErrInvalidTimezone = errors.New("invalid timezone")

// DailySpec builds the cron spec that fires once per local day at hh:mm in tz.
// An empty tz uses the scheduler's location.
func DailySpec(hhmm, tz string) (string, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return spec, nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return "CRON_TZ=" + tz + " " + spec, nil
}

// AddDaily registers (or replaces) a trigger named name that fires daily at
// hhmm in the IANA zone tz. Overlapping firings of the same job are skipped.
func (s *Service) AddDaily(name, hhmm, tz string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	spec, err := DailySpec(hhmm, tz)
	if err != nil {
		return "", err
	}
	return s.add(scheduleDef{
		name:     name,
		spec:     spec,
		timezone: strings.TrimSpace(tz),
		timeout:  timeout,
		job:      job,
		opt:      TaskOptions{Overlap: OverlapSkipIfRunning},
	})
}

// AddInterval registers a housekeeping trigger. The first run is spread by a
// random delay so several intervals registered together do not fire at once.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", every)
	}
	return s.add(scheduleDef{
		name:    name,
		spec:    "@every " + every.String(),
		every:   every,
		timeout: timeout,
		job:     job,
		opt:     TaskOptions{Overlap: OverlapSkipIfRunning},
	})
}

// add validates d and swaps it in under a single lock hold, so readers see
// either the old trigger or the new one.
func (s *Service) add(d scheduleDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	if d.every == 0 {
		if _, err := s.parser.Parse(d.spec); err != nil {
			return "", fmt.Errorf("invalid spec %q: %w", d.spec, err)
		}
	}
	d.id = uuid.NewString()
	d.state = &engine.RunState{}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.removeScheduleLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return d.name, nil
	}
	nd := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(nd); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return "", err
	}
	args := []logx.Field{logx.String("name", d.name), logx.String("spec", d.spec), logx.Bool("replaced", replaced)}
	if next := s.previewNextRunsLocked(d.spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return d.name, nil
}

// Remove unregisters the trigger with the given name. It is idempotent and
// reports whether something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked drops every def named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	// Captured by value: s.defs may be reallocated by later registrations.
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     run,
			Opt:     opt,
			State:   state,
		})
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	})

	if d.every > 0 {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, spread := makeIntervalScheduleWithSpread(d.every, time.Now().In(loc), d.name)
		d.startupSpread = spread
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists upcoming run times for debug logs.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now()
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format(time.RFC3339))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
