package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"shelfbot/internal/abs"
	"shelfbot/internal/batch"
	"shelfbot/internal/commands"
	"shelfbot/internal/config"
	"shelfbot/internal/credential"
	"shelfbot/internal/eventbus"
	"shelfbot/internal/notifier"
	"shelfbot/internal/ops"
	rtsup "shelfbot/internal/runtime/supervisor"
	"shelfbot/internal/scan"
	"shelfbot/internal/storage"
	"shelfbot/internal/subscription"
	"shelfbot/internal/task/engine"
	"shelfbot/internal/task/scheduler"
	kit "shelfbot/internal/transport"
	"shelfbot/internal/transport/discord"
	logx "shelfbot/pkg/logx"
)

type App struct {
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor
	version string
	owner   atomic.Int64

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *discord.Adapter
	books   *abs.Client
	creds   *credential.Manager

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	embeds *batch.Builder
	subs   *subscription.Manager
	router *commands.Router
	ops    *ops.Service

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component without
// starting any of them. version is the build version; tasks.version overrides it.
func New(ctx context.Context, cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(cfg.Tasks.Version); v != "" {
		version = v
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := discord.New(discord.Config{Token: cfg.Discord.Token, GuildID: cfg.Discord.GuildID}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Discord sink off, set the channel, then apply the
	// final config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Discord.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetLogChannel(cfg.Discord.LogChannelID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	creds := credential.NewManager(cfg.Bookshelf.Token, root.With(logx.String("comp", "credential")))
	ac, err := mapBookshelfConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	books, err := abs.New(ac, creds, root.With(logx.String("comp", "abs")))
	if err != nil {
		return closeOnErr(err)
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(engineSvc, root.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	notifSvc := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus, store)

	embeds := batch.NewBuilder(batch.Config{
		Footer:       cfg.Bookshelf.Footer,
		DefaultCover: cfg.Bookshelf.DefaultCover,
		Color:        cfg.Tasks.EmbedColor,
	}, books, store, notifSvc, ad, root.With(logx.String("comp", "batch")))

	subCfg, err := mapSubscriptionConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	scanLog := root.With(logx.String("comp", "scan"))
	subs := subscription.NewManager(subCfg, subscription.Deps{
		Store:     store,
		Scheduler: schedSvc,
		Scope:     creds,
		Delta:     scan.NewDeltaScanner(books, scan.WithClock(clock.WallClock), scan.WithLogger(scanLog)),
		Finished:  scan.NewFinishedScanner(books, scan.WithClock(clock.WallClock), scan.WithLogger(scanLog)),
		Embeds:    embeds,
		Sender:    ad,
		Bus:       bus,
		Clock:     clock.WallClock,
		Log:       root,
	})

	router := commands.NewRouter(root.With(logx.String("comp", "commands")), cfg.Discord.OwnerUserID)
	router.Register(commands.NewHandlers(store, subs, ad, cfg.Bookshelf.Footer, root).Commands()...)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	opsSvc := ops.New(opsCfg, ops.Sources{
		Tasks:         store,
		Subscriptions: subs,
		Engine:        engineSvc,
		Schedules:     schedSvc,
		Notifier:      notifSvc,
	}, root)

	a := &App{
		cfgm:    cfgm,
		version: version,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		books:   books,
		creds:   creds,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		embeds:  embeds,
		subs:    subs,
		router:  router,
		ops:     opsSvc,
		updates: make(chan kit.Update, 256),
	}
	a.owner.Store(cfg.Discord.OwnerUserID)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) dmOwner() func(ctx context.Context, text string) error {
	return ownerDM(a.notif, a.adapter, a.owner.Load)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(cfg)
	})

	checkCtx, cancel := context.WithTimeout(run, 30*time.Second)
	err := checkConnection(checkCtx, a.books, a.log)
	cancel()
	if err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.notif.Start(run)
	a.engine.Start(run)
	a.sched.Start(run)
	a.ops.Start(run)

	regCtx, cancel := context.WithTimeout(run, 30*time.Second)
	err = a.adapter.RegisterCommands(regCtx, a.router.Specs())
	cancel()
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	if _, err := reconcileVersion(run, a.store, a.dmOwner(), a.version, a.log); err != nil {
		a.log.Warn("version reconciliation failed", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	started, err := a.subs.Reconcile(run)
	if err != nil {
		a.log.Warn("subscription startup reconcile incomplete", logx.Err(err))
	}
	if len(started) > 0 {
		a.log.Info("subscription loops auto-enabled", logx.Int("loops", len(started)))
		if a.cfgm.Get().Tasks.InitializedMsg {
			if err := a.dmOwner()(run, subscription.StartupMessage(a.subs.Interval())); err != nil {
				a.log.Warn("startup notice DM failed", logx.Err(err))
			}
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("version", a.version))
	return nil
}

// applyConfig pushes a reloaded config into the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that take effect after restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetLogChannel(next.Discord.LogChannelID)
	a.logs.Apply(mapLogConfig(next))

	a.owner.Store(next.Discord.OwnerUserID)
	a.router.SetOwner(next.Discord.OwnerUserID)
	if prev == nil || prev.Tasks.EmbedColor != next.Tasks.EmbedColor {
		a.embeds.SetColor(next.Tasks.EmbedColor)
	}

	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasEnabled && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if oc, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Loops go first so no new cycle is scheduled while the engine drains.
	a.subs.StopAll()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
