// Package scheduler registers named interval triggers on a robfig/cron runner.
//
// It only computes trigger times. Each fire enqueues an engine.Task, and the
// engine owns timeouts, retries and overlap gating.
package scheduler
