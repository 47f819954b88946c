package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
discord:
  token: "bot-token"
  owner_user_id: 1234
bookshelf:
  url: "http://127.0.0.1:13378"
  token: "abs-token"
tasks:
  interval: "5m"
  embed_color: 3
logging:
  level: info
  console: true
storage:
  path: "./db/tasks.db"
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), cfg.Discord.OwnerUserID)
	assert.Equal(t, "http://127.0.0.1:13378", cfg.Bookshelf.URL)
	assert.Equal(t, 3, cfg.Tasks.EmbedColor)
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"discord":{"token":"x","owner_user_id":1},"telegram":{}}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		cfg, err := Decode("config.yaml", []byte(validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing bookshelf url", mutate: func(c *Config) { c.Bookshelf.URL = "" }, wantErr: "bookshelf.url"},
		{name: "bad color", mutate: func(c *Config) { c.Tasks.EmbedColor = 9 }, wantErr: "tasks.embed_color"},
		{name: "bad duration", mutate: func(c *Config) { c.Tasks.Window = "soon" }, wantErr: "tasks.window"},
		{name: "interval too short", mutate: func(c *Config) { c.Tasks.Interval = "10s" }, wantErr: "tasks.interval"},
		{name: "missing owner", mutate: func(c *Config) { c.Discord.OwnerUserID = 0 }, wantErr: "discord.owner_user_id"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
}

func TestSummarizeConfigChangeHidesTokens(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Bookshelf: BookshelfConfig{URL: "http://a", Token: "old"}}
	newCfg := &Config{Bookshelf: BookshelfConfig{URL: "http://a", Token: "new"}, Tasks: TasksConfig{Interval: "10m"}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"bookshelf", "tasks"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"bookshelf", "tasks"}, RestartRequired(sections))
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = ParseDurationOrDefault("x", "90s", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationOrDefault("x", "300", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = ParseDurationOrDefault("x", "0", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
	_, err = ParseDurationField("x", "-30")
	require.Error(t, err)
	_, err = ParseDurationOrDefault("x", "soon", time.Minute)
	require.Error(t, err)
}

func TestDecodeYAMLAliasesAndEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yml", []byte(`
bookshelf:
  url: "http://abs.local"
  token: &tok "shared-token"
ops:
  token: *tok
`))
	require.NoError(t, err)
	assert.Equal(t, "http://abs.local", cfg.Bookshelf.URL)
	assert.Equal(t, "shared-token", cfg.Ops.Token)

	cfg, err = Decode("config.yaml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Bookshelf.URL)

	_, err = Decode("config.yaml", []byte("? [a, b]\n: 1\n"))
	require.Error(t, err)
}
