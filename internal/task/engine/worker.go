package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "shelfbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	if qt.track {
		defer qt.state.release()
	}
	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	start := time.Now()
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: max(start.Sub(qt.enqueuedAt), 0)}
	s.publish("task.started", item)
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	log.Debug("task started", logx.Duration("queue_delay", item.QueueDelay))

	var err error
	maxAttempts := 1 + max(qt.opt.RetryMax, 0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		item.Attempts = attempt
		err = s.runOnce(ctx, qt, log)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(qt.opt, attempt)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-stopCh:
			t.Stop()
			err = ErrStopping
		case <-t.C:
			continue
		}
		break
	}

	item.Duration = time.Since(start)
	if err != nil {
		item.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", item.Duration), logx.Int("attempts", item.Attempts))
		s.publish("task.failed", item)
	} else {
		log.Debug("task finished", logx.Duration("dur", item.Duration), logx.Int("attempts", item.Attempts))
		s.publish("task.finished", item)
	}
	s.record(item, historySize)
}

// runOnce executes one attempt, converting a panic into an error so a bad task
// cannot kill the worker.
func (s *Service) runOnce(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// backoffDelay is exponential from RetryBase with +/-20% jitter, capped at RetryMaxDelay.
func backoffDelay(opt TaskOptions, retry int) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	return min(d, opt.RetryMaxDelay)
}
