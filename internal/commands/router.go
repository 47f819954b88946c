// Package commands routes slash commands and autocomplete requests to handlers.
package commands

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	rtsup "shelfbot/internal/runtime/supervisor"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const (
	maxChoices   = 25
	jobQueueSize = 256
)

type CompleteFunc func(ctx context.Context, req *Request) ([]transport.Choice, error)

type Command struct {
	Spec    transport.CommandSpec
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
	// Complete maps an autocomplete option name to its suggestion source.
	Complete map[string]CompleteFunc
}

type Request struct {
	Cmd   *transport.Command
	ReqID string
	Log   logx.Logger

	reply func(ctx context.Context, r transport.Response) error
}

// Reply answers with ephemeral text.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Respond(ctx, transport.Response{Text: text, Ephemeral: true})
}

func (r *Request) Respond(ctx context.Context, resp transport.Response) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(ctx, resp)
}

type Router struct {
	mu    sync.RWMutex
	cmds  map[string]Command
	owner atomic.Int64

	log  logx.Logger
	jobs chan func()

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func NewRouter(log logx.Logger, ownerID int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds: map[string]Command{},
		log:  log.With(logx.String("comp", "commands")),
	}
	r.owner.Store(ownerID)
	return r
}

// SetOwner updates the owner used for AccessOwnerOnly checks. Safe during hot reload.
func (r *Router) SetOwner(id int64) { r.owner.Store(id) }

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Spec.Name == "" || c.Handle == nil {
			continue
		}
		r.cmds[c.Spec.Name] = c
	}
}

// Specs lists registered command declarations for the platform.
func (r *Router) Specs() []transport.CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.CommandSpec, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c.Spec)
	}
	return out
}

func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// DispatchLoop consumes updates on a bounded worker pool until ctx is done or
// updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	jobs := make(chan func(), jobQueueSize)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", jobQueueSize))

	r.mu.Lock()
	r.jobs = jobs
	r.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.mu.Lock()
		close(jobs)
		r.jobs = nil
		r.mu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route handles one update. Work is queued while DispatchLoop runs and
// executed inline otherwise.
func (r *Router) Route(ctx context.Context, up transport.Update) {
	if up.Command == nil {
		return
	}
	r.mu.RLock()
	cmd, ok := r.cmds[up.Command.Name]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("unknown command", logx.String("cmd", up.Command.Name))
		return
	}

	switch up.Kind {
	case transport.UpdateAutocomplete:
		r.enqueue(func() { r.complete(ctx, cmd, up) }, nil)
	case transport.UpdateCommand:
		req := r.newRequest(up)
		if cmd.Access == AccessOwnerOnly && up.Command.CallerID != r.owner.Load() {
			req.Log.Warn("command refused", logx.Err(ErrForbidden))
			_ = req.Reply(ctx, "You are not allowed to use this command.")
			return
		}
		final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))
		r.enqueue(func() {
			if err := final(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
				_ = req.Reply(ctx, "Something went wrong, please visit the logs for more information.")
			}
		}, func() { _ = req.Reply(ctx, "Busy, try again.") })
	}
}

func (r *Router) newRequest(up transport.Update) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Cmd:   up.Command,
		ReqID: rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.String("cmd", up.Command.Name),
			logx.Int64("from_id", up.Command.CallerID),
			logx.Int64("channel_id", up.Command.ChannelID),
		),
		reply: up.Reply,
	}
}

func (r *Router) complete(ctx context.Context, cmd Command, up transport.Update) {
	if up.Suggest == nil {
		return
	}
	req := r.newRequest(up)
	var choices []transport.Choice
	if fn, ok := cmd.Complete[up.Command.Focused]; ok {
		var err error
		func() {
			defer func() {
				if p := recover(); p != nil {
					err = errors.New("autocomplete panicked")
				}
			}()
			choices, err = fn(ctx, req)
		}()
		if err != nil {
			req.Log.Warn("autocomplete failed", logx.String("option", up.Command.Focused), logx.Err(err))
			choices = nil
		}
	}
	if len(choices) > maxChoices {
		choices = choices[:maxChoices]
	}
	if err := up.Suggest(ctx, choices); err != nil {
		req.Log.Debug("autocomplete reply failed", logx.Err(err))
	}
}

func (r *Router) enqueue(job func(), busy func()) {
	r.mu.RLock()
	jobs := r.jobs
	if jobs == nil {
		r.mu.RUnlock()
		job()
		return
	}
	select {
	case jobs <- job:
		r.mu.RUnlock()
	default:
		r.mu.RUnlock()
		if busy != nil {
			busy()
		}
	}
}
