package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "shelfbot/internal/transport"
)

const (
	sinkQueueSize   = 256
	sinkSendTimeout = 10 * time.Second
	// Discord caps messages at 2000 characters; leave room for the code fence.
	sinkBodyMax     = 1900
	sinkStackMax    = 900
	sinkValueMax    = 600
)

// Sender is the part of the chat adapter the Discord sink needs.
type Sender interface {
	SendMessage(ctx context.Context, channelID int64, content string, embeds []kit.Embed) (kit.MessageRef, error)
}

// channelSink is a zerolog.LevelWriter that forwards lines to a Discord
// channel from a background goroutine. Writes never block; lines over the
// rate limit or a full queue are dropped.
type channelSink struct {
	sender Sender
	queue  chan sinkLine

	mu        sync.Mutex
	channelID int64
	minLevel  zerolog.Level
	limiter   *rate.Limiter
	cancel    context.CancelFunc
	done      chan struct{}
}

type sinkLine struct {
	channelID int64
	text      string
}

func newChannelSink(sender Sender) *channelSink {
	return &channelSink{
		sender:   sender,
		queue:    make(chan sinkLine, sinkQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  limiterFor(1),
	}
}

func (c *channelSink) setChannel(id int64) {
	c.mu.Lock()
	c.channelID = id
	c.mu.Unlock()
}

func (c *channelSink) hasChannel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID != 0
}

func (c *channelSink) configure(minLevel zerolog.Level, rps int) {
	c.mu.Lock()
	c.minLevel = minLevel
	c.limiter = limiterFor(rps)
	c.mu.Unlock()
}

// start launches the sender goroutine once; later calls are no-ops.
func (c *channelSink) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel, c.done = cancel, make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *channelSink) close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *channelSink) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			if c.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, sinkSendTimeout)
			_, _ = c.sender.SendMessage(sctx, ln.channelID, ln.text, nil)
			cancel()
		}
	}
}

func (c *channelSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *channelSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	id, minLevel, lim := c.channelID, c.minLevel, c.limiter
	c.mu.Unlock()

	if id == 0 || c.sender == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	select {
	case c.queue <- sinkLine{channelID: id, text: renderLine(p)}:
	default:
	}
	return len(p), nil
}

// renderLine turns one zerolog JSON line into a code block: "[LEVEL] message"
// followed by one "- key=value" row per remaining field in key order.
// Input that is not JSON is sent as-is.
func renderLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return fence(clip(string(p), sinkBodyMax))
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(rec[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", clip(v, sinkStackMax))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(v, sinkValueMax))
	}
	return fence(clip(b.String(), sinkBodyMax))
}

func fence(s string) string { return "```\n" + s + "\n```" }

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
