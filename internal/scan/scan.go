// Package scan pulls recent library additions and finished books from Audiobookshelf.
package scan

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"shelfbot/internal/abs"
	logx "shelfbot/pkg/logx"
)

// TimeLayout is how added and finished timestamps are shown to users.
const TimeLayout = "2006/01/02 15:04"

// Delta is a library item added inside the scan window.
type Delta struct {
	Title      string
	Author     string
	ItemID     string
	ProviderID string // ASIN; empty when the item has none
	AddedAt    time.Time
	AddedTime  string
}

// FinishedRecord is a book a user finished inside the scan window.
type FinishedRecord struct {
	Title        string
	ItemID       string
	Username     string
	FinishedAt   time.Time
	FinishedTime string
}

type LibrarySource interface {
	ListLibraries(ctx context.Context) ([]abs.Library, error)
	ListLibraryItems(ctx context.Context, libraryID string) ([]abs.LibraryItem, error)
}

type ProgressSource interface {
	ListUsers(ctx context.Context) ([]abs.User, error)
	UserProgress(ctx context.Context, userID string) ([]abs.MediaProgress, error)
}

var titleSuffixes = []string{"(Abridged)", "(Unabridged)"}

// NormalizeTitle strips the abridged/unabridged marker. It is idempotent.
func NormalizeTitle(title string) string {
	for _, s := range titleSuffixes {
		if strings.Contains(title, s) {
			title = strings.TrimSpace(strings.Replace(title, s, "", 1))
		}
	}
	return title
}

type options struct {
	clock clock.Clock
	loc   *time.Location
	log   logx.Logger
}

type Option func(*options)

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLocation sets the zone used for display timestamps. Default time.Local.
func WithLocation(loc *time.Location) Option { return func(o *options) { o.loc = loc } }

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{clock: clock.WallClock, loc: time.Local, log: logx.Nop()}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func cutoff(c clock.Clock, window time.Duration) int64 {
	return c.Now().Add(-window).UnixMilli()
}

func (o options) format(ms int64) (time.Time, string) {
	t := time.UnixMilli(ms).In(o.loc)
	return t, t.Format(TimeLayout)
}
