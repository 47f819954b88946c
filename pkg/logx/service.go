package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultLogFile = "./shelfbot.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Discord DiscordConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// DiscordConfig mirrors log lines at or above MinLevel into a Discord channel.
type DiscordConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the process-wide outputs. Loggers derived from it follow every Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	sink *channelSink
}

// New applies cfg right away and returns the service with its root logger.
// sender may be nil, in which case the Discord sink never sends.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{sink: newChannelSink(sender)}
	boot := newRoot(consoleWriter(os.Stdout), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetLogChannel picks the channel mirrored lines go to. 0 turns mirroring off.
func (s *Service) SetLogChannel(channelID int64) { s.sink.setChannel(channelID) }

// Apply rebuilds the outputs. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	s.sink.configure(parseLevel(cfg.Discord.MinLevel, zerolog.WarnLevel), cfg.Discord.RatePerSec)
	if cfg.Discord.Enabled {
		s.sink.start()
		outs = append(outs, s.sink)
		if !s.sink.hasChannel() {
			fmt.Fprintln(os.Stderr, "logx: discord logging enabled but discord.log_channel_id is not set")
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := newRoot(zerolog.MultiLevelWriter(outs...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// Close stops the Discord sink and closes the log file.
func (s *Service) Close() error {
	s.sink.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

// limiterFor returns a limiter allowing rps lines per second (at least one).
func limiterFor(rps int) *rate.Limiter {
	if rps < 1 {
		rps = 1
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}
