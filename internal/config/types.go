package config

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Bookshelf BookshelfConfig `json:"bookshelf"`
	Tasks     TasksConfig     `json:"tasks"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`

	// TaskEngine controls execution settings for scheduled cycles.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type DiscordConfig struct {
	Token       string `json:"token" validate:"required"`
	OwnerUserID int64  `json:"owner_user_id" validate:"required,gt=0"`
	// LogChannelID receives mirrored warn+ log lines when logging.discord.enabled is set.
	LogChannelID int64 `json:"log_channel_id,omitempty" validate:"gte=0"`
	// GuildID scopes slash command registration. 0 registers global commands.
	GuildID int64 `json:"guild_id,omitempty" validate:"gte=0"`
}

// BookshelfConfig points at the Audiobookshelf server.
//
// Token is the default credential. Scheduled cycles run under the token stored
// with each registration instead.
type BookshelfConfig struct {
	URL   string `json:"url" validate:"required,url"`
	Token string `json:"token" validate:"required"`
	// PublicURL overrides the base used for item deep links (only honored when https).
	PublicURL string `json:"public_url,omitempty" validate:"omitempty,url"`

	// RequestTimeout is a Go duration string. Default "15s".
	RequestTimeout string `json:"request_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`

	DefaultCover string `json:"default_cover,omitempty" validate:"omitempty,url"`
	Footer       string `json:"footer,omitempty"`
}

// TasksConfig controls the subscription loops.
//
// Defaults (when fields are omitted/zero):
//   - interval: "5m"
//   - window: same as interval
//   - cycle_timeout: "4m"
//   - embed_color: 0 (Default)
type TasksConfig struct {
	Interval     string `json:"interval,omitempty"`
	Window       string `json:"window,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	EmbedColor   int    `json:"embed_color,omitempty" validate:"gte=0,lte=6"`

	// Version overrides the build version used for upgrade detection.
	Version string `json:"version,omitempty"`
	// InitializedMsg DMs the owner when loops auto-start.
	InitializedMsg bool `json:"initialized_msg,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (a missed cycle waits for the next interval)
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0"`
}

// NotifierConfig controls the async direct-message pipeline (wishlist and owner DMs).
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers" validate:"gte=0"`
	QueueSize       int    `json:"queue_size" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax        int    `json:"retry_max" validate:"gte=0"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries" validate:"gte=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the SQLite database.
//
// Example:
//
//	"storage": { "path": "./db/tasks.db", "busy_timeout": "1s" }
type StorageConfig struct {
	Path        string `json:"path" validate:"required"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the optional operator HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}
