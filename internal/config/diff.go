package config

import (
	"reflect"
	"strings"

	logx "shelfbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Discord.OwnerUserID != newCfg.Discord.OwnerUserID ||
		oldCfg.Discord.LogChannelID != newCfg.Discord.LogChannelID ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Discord.Token != newCfg.Discord.Token {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Int64("discord.owner_user_id", newCfg.Discord.OwnerUserID),
			logx.Bool("discord.log_channel_set", newCfg.Discord.LogChannelID != 0),
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
		)
	}

	ob, nb := oldCfg.Bookshelf, newCfg.Bookshelf
	if strings.TrimSpace(ob.URL) != strings.TrimSpace(nb.URL) ||
		ob.PublicURL != nb.PublicURL ||
		ob.RequestTimeout != nb.RequestTimeout ||
		ob.RetryMax != nb.RetryMax ||
		ob.DefaultCover != nb.DefaultCover ||
		ob.Footer != nb.Footer ||
		ob.Token != nb.Token {
		changed = append(changed, "bookshelf")
		attrs = append(attrs,
			logx.String("bookshelf.url", nb.URL),
			logx.String("bookshelf.request_timeout", nb.RequestTimeout),
			logx.Bool("bookshelf.token_changed", ob.Token != nb.Token),
		)
	}

	if oldCfg.Tasks != newCfg.Tasks {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.String("tasks.interval", newCfg.Tasks.Interval),
			logx.String("tasks.window", newCfg.Tasks.Window),
			logx.Int("tasks.embed_color", newCfg.Tasks.EmbedColor),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || oldCfg.Ops.Token != newCfg.Ops.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs
}

// RestartRequired reports sections whose changes only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "discord", "bookshelf", "storage", "tasks":
			out = append(out, s)
		}
	}
	return out
}
