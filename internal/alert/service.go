package alert

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"cronfunc/internal/eventbus"
	"cronfunc/internal/runtime/supervisor"
	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

// SubscribedEvents are the bus event types an alert can come from.
var SubscribedEvents = []string{eventbus.TaskFailed, eventbus.TaskDropped, eventbus.TaskSkipped}

var outcomeByEvent = map[string]string{
	eventbus.TaskFailed:  OutcomeFailed,
	eventbus.TaskDropped: OutcomeDropped,
	eventbus.TaskSkipped: OutcomeSkipped,
}

// Service is an async alert pipeline. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender

	cfg     Config
	on      map[string]bool
	limiter *rate.Limiter
	dedup   *ttlcache.Cache[string, struct{}]

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Alert
	sup      *supervisor.Supervisor
	stopDone chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "alert"))}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits, outcomes and dedup window. Queue size and worker
// count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	if len(cfg.On) == 0 {
		cfg.On = []string{OutcomeFailed, OutcomeDropped}
	}

	on := make(map[string]bool, len(cfg.On))
	for _, o := range cfg.On {
		on[strings.ToLower(strings.TrimSpace(o))] = true
	}

	if s.dedup == nil || cfg.DedupWindow != s.cfg.DedupWindow || cfg.DedupMaxEntries != s.cfg.DedupMaxEntries {
		s.dedup = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](cfg.DedupWindow),
			ttlcache.WithCapacity[string, struct{}](uint64(cfg.DedupMaxEntries)),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	s.cfg = cfg
	s.on = on
	// burst = rate so short spikes don't block
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent and does nothing while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Alert, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// alerting is best-effort and never takes the host down
		supervisor.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	for i := range workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("alerts started", logx.Int("workers", workers))
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight Notify calls finish before the queue closes
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues a. Duplicates inside the dedup window are accepted and
// dropped silently.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q, window, dedup := s.queue, s.cfg.DedupWindow, s.dedup
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if window > 0 {
		key := a.dedupKey()
		if dedup.Get(key) != nil {
			s.log.Debug("alert deduped", logx.String("function", a.Function), logx.String("outcome", a.Outcome))
			return nil
		}
		dedup.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}

	select {
	case q <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume turns outcome events from ch into alerts until ctx is done or ch
// is closed.
func (s *Service) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			a, ok := s.fromEvent(e)
			if !ok {
				continue
			}
			switch err := s.Notify(ctx, a); {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, ErrDisabled), errors.Is(err, ErrStopped):
				s.log.Debug("alert not queued", logx.String("function", a.Function), logx.Err(err))
			default:
				s.log.Warn("alert not queued", logx.String("function", a.Function), logx.Err(err))
			}
		}
	}
}

func (s *Service) fromEvent(e eventbus.Event) (Alert, bool) {
	outcome, ok := outcomeByEvent[e.Type]
	if !ok {
		return Alert{}, false
	}
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return Alert{}, false
	}
	s.mu.Lock()
	want := s.on[outcome]
	s.mu.Unlock()
	if !want {
		return Alert{}, false
	}
	return Alert{
		Function:  ev.Name,
		Outcome:   outcome,
		ID:        ev.ID,
		Scheduled: ev.Scheduled,
		Attempts:  ev.Attempts,
		Error:     ev.Error,
		At:        e.Time,
	}, true
}

// Snapshot returns recently sent alert texts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return slices.Clone(s.history)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, a)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, a Alert) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}

	text := a.Text()
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.Send(callCtx, text)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.log.Debug("alert sent", logx.String("function", a.Function), logx.String("outcome", a.Outcome))
			return
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("alert send failed",
		logx.String("function", a.Function),
		logx.String("outcome", a.Outcome),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
}

// retryDelay is the wait before attempt+1: exponential from RetryBase with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
