package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips are normal when a function outlives its period.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	if !s.warnLimiter(name).Allow() {
		return
	}
	s.log.Warn("schedule failed to enqueue invocation", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) warnLimiter(name string) *rate.Limiter {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	l := s.warn[name]
	if l == nil {
		l = rate.NewLimiter(rate.Every(enqueueWarnThrottle), 1)
		s.warn[name] = l
	}
	return l
}
