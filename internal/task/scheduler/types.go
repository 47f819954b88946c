package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"shelfbot/internal/task/engine"
	logx "shelfbot/pkg/logx"
)

// Enqueuer is the engine surface the scheduler drives.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name    string
	every   time.Duration
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	state   *engine.RunState
	entryID cron.EntryID
	spread  time.Duration
	added   time.Time
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	engine Enqueuer
	spread bool

	c    *cron.Cron
	defs map[string]*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Every   time.Duration `json:"every"`
	Timeout time.Duration `json:"timeout"`
	Spread  time.Duration `json:"startup_spread"`
	Running bool          `json:"running"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}
