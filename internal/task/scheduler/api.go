package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

// Add registers d, replacing any schedule with the same name. A running
// scheduler starts triggering it immediately.
func (s *Service) Add(d Definition) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name required")
	}
	if d.Run == nil {
		return fmt.Errorf("%s: run func required", d.Name)
	}
	ps, err := ParseSchedule(d.Spec)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nd := &scheduleDef{Definition: d, parsed: ps, state: &engine.RunState{}}
	if i := s.indexLocked(d.Name); i >= 0 {
		old := s.defs[i]
		s.unregisterLocked(old)
		// keep the overlap gate so an in-flight run still blocks the next one
		nd.state = old.state
		s.defs[i] = nd
	} else {
		s.defs = append(s.defs, nd)
	}
	if s.c != nil {
		s.registerLocked(nd)
	}
	return nil
}

// Remove unregisters the named schedule. It reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(name)
	if i < 0 {
		return false
	}
	s.unregisterLocked(s.defs[i])
	s.defs = slices.Delete(s.defs, i, i+1)
	return true
}

// Sync makes the registered set equal to defs: new names are added, changed
// ones replaced, and names missing from defs removed. Every definition is
// validated before anything changes.
func (s *Service) Sync(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.Name] {
			return fmt.Errorf("duplicate schedule %q", d.Name)
		}
		seen[d.Name] = true
		if _, err := ParseSchedule(d.Spec); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	for _, name := range s.Names() {
		if !seen[name] {
			s.Remove(name)
			s.log.Info("schedule removed", logx.String("name", name))
		}
	}
	for _, d := range defs {
		if err := s.Add(d); err != nil {
			return err
		}
	}
	return nil
}

// Names lists registered schedules in registration order.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.Name)
	}
	return out
}

func (s *Service) indexLocked(name string) int {
	return slices.IndexFunc(s.defs, func(d *scheduleDef) bool { return d.Name == name })
}

func (s *Service) unregisterLocked(d *scheduleDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}
