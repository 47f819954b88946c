package app

import (
	"fmt"
	"strings"
	"time"

	"shelfbot/internal/abs"
	"shelfbot/internal/config"
	"shelfbot/internal/notifier"
	"shelfbot/internal/ops"
	"shelfbot/internal/storage"
	"shelfbot/internal/subscription"
	"shelfbot/internal/task/engine"
	logx "shelfbot/pkg/logx"
)

const defaultCycleTimeout = 4 * time.Minute

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{}, fmt.Errorf("config is nil")
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

func mapBookshelfConfig(cfg *config.Config) (abs.Config, error) {
	timeout, err := config.ParseDurationOrDefault("bookshelf.request_timeout", cfg.Bookshelf.RequestTimeout, 15*time.Second)
	if err != nil {
		return abs.Config{}, err
	}
	return abs.Config{
		BaseURL:   strings.TrimSpace(cfg.Bookshelf.URL),
		PublicURL: strings.TrimSpace(cfg.Bookshelf.PublicURL),
		Timeout:   timeout,
		RetryMax:  cfg.Bookshelf.RetryMax,
	}, nil
}

func mapSubscriptionConfig(cfg *config.Config) (subscription.Config, error) {
	interval, err := config.ParseDurationOrDefault("tasks.interval", cfg.Tasks.Interval, config.DefaultTaskInterval)
	if err != nil {
		return subscription.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("tasks.window", cfg.Tasks.Window, interval)
	if err != nil {
		return subscription.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("tasks.cycle_timeout", cfg.Tasks.CycleTimeout, defaultCycleTimeout)
	if err != nil {
		return subscription.Config{}, err
	}
	return subscription.Config{Interval: interval, Window: window, Timeout: timeout}, nil
}

// mapTaskEngineConfig fills engine defaults. The engine is always enabled:
// the subscription loops cannot run without it.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 64, HistorySize: 200}
	if cfg == nil || cfg.TaskEngine == nil {
		return out, nil
	}
	te := cfg.TaskEngine
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = max(te.RetryMax, 0)
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

// mapNotifierConfig returns an enabled notifier when the section is omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{Enabled: true, DedupWindow: time.Hour}, nil
	}
	n := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 30*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateReload rejects a hot-reloaded config that cannot be mapped.
func validateReload(cfg *config.Config) error {
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	_, err := mapSubscriptionConfig(cfg)
	return err
}
