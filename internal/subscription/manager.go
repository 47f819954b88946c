package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"shelfbot/internal/batch"
	"shelfbot/internal/eventbus"
	"shelfbot/internal/scan"
	"shelfbot/internal/storage"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type DeltaScanner interface {
	Scan(ctx context.Context, window time.Duration) ([]scan.Delta, error)
}

type FinishedScanner interface {
	Scan(ctx context.Context, window time.Duration) ([]scan.FinishedRecord, error)
}

// Embedder builds embeds. *batch.Builder satisfies it.
type Embedder interface {
	BuildNewBookEmbeds(ctx context.Context, deltas []scan.Delta, label string, notifyWishlist bool) []transport.Embed
	BuildFinishedBookEmbeds(ctx context.Context, records []scan.FinishedRecord, label string) []transport.Embed
	SetColor(idx int) bool
}

type Config struct {
	Interval time.Duration
	Window   time.Duration
	Timeout  time.Duration
}

type Deps struct {
	Store     Registrations
	Scheduler Scheduler
	Scope     CredentialScope
	Delta     DeltaScanner
	Finished  FinishedScanner
	Embeds    Embedder
	Sender    batch.MessageSender
	Bus       eventbus.Bus
	Clock     clock.Clock
	Log       logx.Logger
}

// Manager owns the new-book and finished-book loops.
type Manager struct {
	cfg   Config
	deps  Deps
	log   logx.Logger
	loops map[storage.Kind]*Loop
}

func NewManager(cfg Config, d Deps) *Manager {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Interval
	}
	m := &Manager{cfg: cfg, deps: d, log: d.Log.With(logx.String("comp", "subscription"))}
	m.loops = map[storage.Kind]*Loop{
		storage.KindNewBook:      m.newLoop(storage.KindNewBook, m.newBookCycle),
		storage.KindFinishedBook: m.newLoop(storage.KindFinishedBook, m.finishedBookCycle),
	}
	return m
}

func (m *Manager) newLoop(kind storage.Kind, c Cycle) *Loop {
	return NewLoop(LoopConfig{Kind: kind, Interval: m.cfg.Interval, Timeout: m.cfg.Timeout},
		m.deps.Store, m.deps.Scheduler, m.deps.Scope, c, m.deps.Bus, m.deps.Clock, m.log)
}

func (m *Manager) Interval() time.Duration { return m.cfg.Interval }

func (m *Manager) Loop(kind storage.Kind) (*Loop, bool) {
	l, ok := m.loops[kind]
	return l, ok
}

func (m *Manager) Enable(ctx context.Context, kind storage.Kind) error {
	l, ok := m.loops[kind]
	if !ok {
		return fmt.Errorf("unknown task kind %q", kind)
	}
	return l.Enable(ctx)
}

func (m *Manager) Running(kind storage.Kind) bool {
	l, ok := m.loops[kind]
	return ok && l.State() == StateRunning
}

func (m *Manager) Disable(kind storage.Kind) bool {
	l, ok := m.loops[kind]
	return ok && l.Disable()
}

// Reconcile starts every kind that has registrations and returns the started kinds.
func (m *Manager) Reconcile(ctx context.Context) ([]storage.Kind, error) {
	var (
		started []storage.Kind
		errs    []error
	)
	for _, kind := range storage.Kinds() {
		ok, err := m.loops[kind].Reconcile(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			started = append(started, kind)
		}
	}
	return started, errors.Join(errs...)
}

// StopAll disables every running loop.
func (m *Manager) StopAll() {
	for _, kind := range storage.Kinds() {
		m.loops[kind].Disable()
	}
}

func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.loops))
	for _, kind := range storage.Kinds() {
		out = append(out, m.loops[kind].Status())
	}
	return out
}

func (m *Manager) SetColor(idx int) bool { return m.deps.Embeds.SetColor(idx) }

// Lookback scans for books added in the last window under the ambient
// credential and returns their embeds without notifying wishlists.
func (m *Manager) Lookback(ctx context.Context, window time.Duration, label string) ([]transport.Embed, error) {
	var embeds []transport.Embed
	err := m.deps.Scope.WithScopedCredential(ctx, "", func(ctx context.Context) error {
		deltas, err := m.deps.Delta.Scan(ctx, window)
		if err != nil {
			return err
		}
		embeds = m.deps.Embeds.BuildNewBookEmbeds(ctx, deltas, label, false)
		return nil
	})
	return embeds, err
}

// StartupMessage is the owner DM sent after loops auto-start.
func StartupMessage(interval time.Duration) string {
	return fmt.Sprintf("Subscription Task db was populated, auto enabling tasks on startup. Refresh rate set to %d minutes.", int(interval.Minutes()))
}

func (m *Manager) newBookCycle(ctx context.Context, reg storage.Task) (int, error) {
	deltas, err := m.deps.Delta.Scan(ctx, m.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("scan new books: %w", err)
	}
	if len(deltas) == 0 {
		m.log.Debug("no new books", logx.Int64("task_id", reg.ID))
		return 0, nil
	}
	embeds := m.deps.Embeds.BuildNewBookEmbeds(ctx, deltas, reg.ServerName, true)
	return len(deltas), m.deliver(ctx, reg, batch.NewBooksMessage, embeds)
}

func (m *Manager) finishedBookCycle(ctx context.Context, reg storage.Task) (int, error) {
	records, err := m.deps.Finished.Scan(ctx, m.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("scan finished books: %w", err)
	}
	if len(records) == 0 {
		m.log.Debug("no finished books", logx.Int64("task_id", reg.ID))
		return 0, nil
	}
	embeds := m.deps.Embeds.BuildFinishedBookEmbeds(ctx, records, reg.ServerName)
	return len(records), m.deliver(ctx, reg, batch.FinishedBooksMessage, embeds)
}

// deliver treats a vanished channel as a skipped delivery, not a failure.
func (m *Manager) deliver(ctx context.Context, reg storage.Task, content string, embeds []transport.Embed) error {
	sent, err := batch.Deliver(ctx, m.deps.Sender, reg.ChannelID, content, embeds)
	if errors.Is(err, transport.ErrNotFound) {
		m.log.Warn("subscription channel not found; skipping delivery",
			logx.Int64("task_id", reg.ID),
			logx.Int64("channel_id", reg.ChannelID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Debug("delivered", logx.Int64("channel_id", reg.ChannelID), logx.Int("messages", sent), logx.Int("embeds", len(embeds)))
	return nil
}
