package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json paths ("bookshelf.url") rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and the duration fields that tags cannot express.
// It is safe to use as the Watch validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q validation", fieldPath(fe.Namespace()), fe.Tag())
		}
		return err
	}

	durations := []struct{ path, raw string }{
		{"bookshelf.request_timeout", cfg.Bookshelf.RequestTimeout},
		{"tasks.interval", cfg.Tasks.Interval},
		{"tasks.window", cfg.Tasks.Window},
		{"tasks.cycle_timeout", cfg.Tasks.CycleTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	}
	if cfg.TaskEngine != nil {
		durations = append(durations, struct{ path, raw string }{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout})
	}
	if cfg.Notifier != nil {
		durations = append(durations,
			struct{ path, raw string }{"notifier.retry_base", cfg.Notifier.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
			struct{ path, raw string }{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	interval, _ := ParseDurationOrDefault("tasks.interval", cfg.Tasks.Interval, DefaultTaskInterval)
	if interval < time.Minute {
		return fmt.Errorf("tasks.interval: must be >= 1m, got %s", interval)
	}
	return nil
}

// DefaultTaskInterval is the shared period of both subscription loops.
const DefaultTaskInterval = 5 * time.Minute

// fieldPath turns "Config.bookshelf.url" into "bookshelf.url".
func fieldPath(ns string) string {
	return strings.TrimPrefix(ns, "Config.")
}
