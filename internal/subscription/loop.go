package subscription

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"shelfbot/internal/eventbus"
	"shelfbot/internal/storage"
	"shelfbot/internal/task/engine"
	logx "shelfbot/pkg/logx"
)

const manyItemsWarn = 10

type Registrations interface {
	FindTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
}

// Scheduler is the trigger source. *scheduler.Service satisfies it.
type Scheduler interface {
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type CredentialScope interface {
	WithScopedCredential(ctx context.Context, token string, body func(ctx context.Context) error) error
}

// Cycle scans and delivers for one registration under its scoped credential.
// It returns how many items it found.
type Cycle func(ctx context.Context, reg storage.Task) (int, error)

type LoopConfig struct {
	Kind     storage.Kind
	Interval time.Duration
	Timeout  time.Duration
}

type Loop struct {
	cfg   LoopConfig
	store Registrations
	sched Scheduler
	scope CredentialScope
	cycle Cycle
	bus   eventbus.Bus
	clock clock.Clock
	log   logx.Logger

	mu    sync.Mutex
	state State
	last  CycleInfo
}

func NewLoop(cfg LoopConfig, store Registrations, sched Scheduler, scope CredentialScope, cycle Cycle, bus eventbus.Bus, clk clock.Clock, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Loop{
		cfg:   cfg,
		store: store,
		sched: sched,
		scope: scope,
		cycle: cycle,
		bus:   bus,
		clock: clk,
		log:   log.With(logx.String("kind", string(cfg.Kind))),
	}
}

func (l *Loop) Kind() storage.Kind { return l.cfg.Kind }

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Kind: l.cfg.Kind, State: l.state.String(), Interval: l.cfg.Interval, Last: l.last}
}

// Enable starts the loop. It fails with ErrNoRegistrations when the kind has
// none and is a no-op when the loop already runs.
func (l *Loop) Enable(ctx context.Context) error {
	return l.start(ctx, TransitionEnable)
}

// Reconcile starts the loop when registrations exist and reports whether it runs.
func (l *Loop) Reconcile(ctx context.Context) (bool, error) {
	err := l.start(ctx, TransitionReconcile)
	if errors.Is(err, ErrNoRegistrations) {
		return false, nil
	}
	return err == nil, err
}

// Disable prevents future fires. A cycle already in flight runs to completion.
func (l *Loop) Disable() bool {
	return l.stop(TransitionDisable)
}

func (l *Loop) start(ctx context.Context, why Transition) error {
	rows, err := l.store.FindTasks(ctx, storage.TaskFilter{Kind: l.cfg.Kind})
	if err != nil {
		return fmt.Errorf("load %s registrations: %w", l.cfg.Kind, err)
	}
	if len(rows) == 0 {
		return ErrNoRegistrations
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		return nil
	}
	if _, err := l.sched.AddInterval(string(l.cfg.Kind), l.cfg.Interval, l.cfg.Timeout, l.fire); err != nil {
		return fmt.Errorf("schedule %s: %w", l.cfg.Kind, err)
	}
	l.setStateLocked(StateRunning, why)
	l.log.Info("subscription loop started",
		logx.String("transition", string(why)),
		logx.Int("registrations", len(rows)),
		logx.Duration("interval", l.cfg.Interval),
	)
	return nil
}

func (l *Loop) stop(why Transition) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked(why)
}

func (l *Loop) stopLocked(why Transition) bool {
	if l.state == StateStopped {
		return false
	}
	l.sched.Remove(string(l.cfg.Kind))
	l.setStateLocked(StateStopped, why)
	l.log.Info("subscription loop stopped", logx.String("transition", string(why)))
	return true
}

// drain stops the loop after a fire found no registrations. The registrations
// are read again under l.mu, so one added by a concurrent Enable keeps the loop running.
func (l *Loop) drain(ctx context.Context, log logx.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return
	}
	rows, err := l.store.FindTasks(ctx, storage.TaskFilter{Kind: l.cfg.Kind})
	switch {
	case err != nil:
		log.Warn("drain re-check failed; keeping loop running", logx.Err(err))
		return
	case len(rows) > 0:
		log.Debug("registrations appeared during drain; keeping loop running", logx.Int("registrations", len(rows)))
		return
	}
	log.Warn("loop running without registrations; stopping")
	l.stopLocked(TransitionDrained)
}

func (l *Loop) setStateLocked(to State, why Transition) {
	from := l.state
	l.state = to
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type: eventbus.TypeLoopState,
			Time: l.clock.Now(),
			Data: StateEvent{Kind: l.cfg.Kind, From: from.String(), To: to.String(), Transition: why},
		})
	}
}

// fire is the scheduled job. Only a failed registration load is returned, so
// the engine may retry it: nothing has been delivered yet. Per-registration
// failures are logged and never returned, since a retry would deliver twice.
// The trigger keeps firing either way.
func (l *Loop) fire(ctx context.Context) error {
	info := CycleInfo{ID: uuid.NewString(), StartedAt: l.clock.Now()}
	log := l.log.With(logx.String("cycle_id", info.ID))
	l.publish(eventbus.TypeCycleStarted, info)

	rows, err := l.store.FindTasks(ctx, storage.TaskFilter{Kind: l.cfg.Kind})
	if err != nil {
		log.Error("load registrations failed; skipping cycle", logx.Err(err))
		l.finish(info)
		err = fmt.Errorf("load %s registrations: %w", l.cfg.Kind, err)
		if errors.Is(err, storage.ErrClosed) {
			return engine.NoRetry(err)
		}
		return err
	}
	if len(rows) == 0 {
		l.drain(ctx, log)
		l.finish(info)
		return nil
	}

	info.Registrations = len(rows)
	for _, reg := range rows {
		n, err := l.runOne(ctx, reg)
		info.Items += n
		if err != nil {
			info.Failed++
			log.Error("registration cycle failed",
				logx.Int64("task_id", reg.ID),
				logx.Int64("channel_id", reg.ChannelID),
				logx.Err(err),
			)
		}
	}
	l.finish(info)
	log.Info("cycle complete",
		logx.Int("registrations", info.Registrations),
		logx.Int("items", info.Items),
		logx.Int("failed", info.Failed),
		logx.Duration("took", info.FinishedAt.Sub(info.StartedAt)),
	)
	return nil
}

// runOne is the per-registration catch boundary; a panic is reported as an error.
func (l *Loop) runOne(ctx context.Context, reg storage.Task) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("registration cycle panicked",
				logx.Int64("task_id", reg.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	err = l.scope.WithScopedCredential(ctx, reg.Token, func(ctx context.Context) error {
		var cerr error
		n, cerr = l.cycle(ctx, reg)
		return cerr
	})
	if n > manyItemsWarn {
		l.log.Warn("more than 10 items in one cycle", logx.Int64("task_id", reg.ID), logx.Int("items", n))
	}
	return n, err
}

func (l *Loop) finish(info CycleInfo) {
	info.FinishedAt = l.clock.Now()
	l.mu.Lock()
	l.last = info
	l.mu.Unlock()
	l.publish(eventbus.TypeCycleFinished, info)
}

func (l *Loop) publish(typ string, info CycleInfo) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Time: l.clock.Now(), Data: info})
}
