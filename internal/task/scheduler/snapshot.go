package scheduler

import "time"

// Snapshot reports registered schedules with their next and previous fire
// times. Next is computed from the schedule when the cron loop is not
// running.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	now := s.clock().In(loc)

	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:         d.Name,
			Spec:         d.parsed.String(),
			Kind:         d.parsed.Kind.String(),
			Timeout:      d.Timeout,
			Overlap:      d.Opt.Overlap.String(),
			RunOnStartup: d.RunOnStartup,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		if it.Next.IsZero() {
			it.Next = d.parsed.Schedule().Next(now)
		}
		items = append(items, it)
	}

	return Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  loc.String(),
		Schedules: items,
	}
}

// NextFire returns the next fire time of the named schedule after from.
func (s *Service) NextFire(name string, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(name)
	if i < 0 {
		return time.Time{}, false
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	return s.defs[i].parsed.Schedule().Next(from.In(loc)), true
}
