package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"shelfbot/internal/task/engine"
	logx "shelfbot/pkg/logx"
)

type Option func(*Service)

// WithStartupSpread delays the first fire of each interval by a random jitter
// (at most 30s) so schedules registered together do not fire together.
func WithStartupSpread(enabled bool) Option { return func(s *Service) { s.spread = enabled } }

func New(eng Enqueuer, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:         log,
		engine:      eng,
		spread:      true,
		defs:        map[string]*scheduleDef{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins triggering. Schedules added before Start are registered now.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New()
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. Definitions are kept and re-registered by the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddInterval registers (or replaces) a named interval. A fire that finds the
// previous run still in flight is skipped.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("schedule name required")
	case every <= 0:
		return "", fmt.Errorf("schedule %s: interval must be positive", name)
	case job == nil:
		return "", fmt.Errorf("schedule %s: job required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{
		name:    name,
		every:   every,
		timeout: timeout,
		job:     job,
		opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		state:   &engine.RunState{},
		added:   time.Now(),
	}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.Duration("every", every),
		logx.Duration("timeout", timeout),
		logx.Duration("spread", d.spread),
	)
	return name, nil
}

// Remove unschedules name. It reports whether a schedule existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	return ok
}

// Snapshot lists schedules sorted by name.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:    d.name,
			Every:   d.every,
			Timeout: d.timeout,
			Spread:  d.spread,
			Running: d.state.Running(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *scheduleDef) {
	job := cron.FuncJob(func() { s.fire(d) })
	var sched cron.Schedule = cron.Every(d.every)
	d.spread = 0
	if s.spread {
		sched, d.spread = makeIntervalScheduleWithSpread(d.every, time.Now(), d.name)
	}
	d.entryID = s.c.Schedule(sched, job)
}

func (s *Service) fire(d *scheduleDef) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	})
	s.reportEnqueueError(d.name, err)
}
