package scheduler

import (
	"sort"
	"time"
)

// Schedules lists registered triggers sorted by name. Next is taken from the
// running cron entry, or computed from the spec when the loop is stopped.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedulesLocked(time.Now())
}

func (s *Service) schedulesLocked(now time.Time) []ScheduleInfo {
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timezone: d.timezone, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		if it.Next.IsZero() && d.every == 0 {
			if sched, err := s.parser.Parse(d.spec); err == nil {
				it.Next = sched.Next(now)
			}
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Timezone
	if tz == "" {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}
	return Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  tz,
		Schedules: s.schedulesLocked(time.Now()),
	}
}
