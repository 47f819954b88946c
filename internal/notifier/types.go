package notifier

import (
	"context"
	"time"

	kit "shelfbot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// DirectSender is the part of the chat adapter the notifier needs.
type DirectSender interface {
	SendDirect(ctx context.Context, userID int64, content string, embeds []kit.Embed) error
}

// DedupStore persists suppress-until marks across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type HistoryItem struct {
	At     time.Time
	UserID int64
	Text   string
}

// Event is the payload of notifier.* bus events.
type Event struct {
	Channel string    `json:"channel"`
	UserID  int64     `json:"user_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
