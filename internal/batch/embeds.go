// Package batch turns scan results into Discord embeds and posts them
// to subscription channels within the per-message embed limit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shelfbot/internal/scan"
	"shelfbot/internal/storage"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

const (
	defaultLabel = "Audiobookshelf"
	defaultCover = "https://your-default-cover-url.com"

	wishlistChannel = "wishlist"
)

// Links resolves server URLs and covers. *abs.Client satisfies it.
type Links interface {
	BaseURL() string
	ItemURL(itemID string) string
	CoverURL(ctx context.Context, itemID string) (string, error)
}

type Wishlist interface {
	SearchWishlist(ctx context.Context, title string) ([]storage.WishlistEntry, error)
	MarkWishlistFulfilled(ctx context.Context, subscriberID int64, title string) (bool, error)
	FindTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
}

type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

type Directory interface {
	UserDisplayName(ctx context.Context, userID int64) (string, error)
}

type Config struct {
	Footer       string
	DefaultCover string
	Color        int
}

// Builder is safe for concurrent use; only the color is mutable.
type Builder struct {
	cfg      Config
	links    Links
	wishlist Wishlist
	notifier Notifier
	users    Directory
	log      logx.Logger
	color    colorSetting
}

func NewBuilder(cfg Config, links Links, wl Wishlist, n Notifier, users Directory, log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultCover == "" {
		cfg.DefaultCover = defaultCover
	}
	b := &Builder{cfg: cfg, links: links, wishlist: wl, notifier: n, users: users, log: log}
	b.color.set(cfg.Color)
	return b
}

// SetColor selects a palette entry. It reports false for an out-of-range index.
func (b *Builder) SetColor(idx int) bool { return b.color.set(idx) }

func (b *Builder) ColorValue() int { return b.color.value() }

// BuildNewBookEmbeds builds one embed per delta. With notifyWishlist set, every
// subscriber who wishlisted a title gets a DM carrying the embeds built so far,
// and the entry is marked fulfilled once the DM is queued.
func (b *Builder) BuildNewBookEmbeds(ctx context.Context, deltas []scan.Delta, label string, notifyWishlist bool) []transport.Embed {
	label = labelOr(label)
	embeds := make([]transport.Embed, 0, len(deltas))
	for _, d := range deltas {
		matches, err := b.wishlist.SearchWishlist(ctx, d.Title)
		if err != nil {
			b.log.Warn("wishlist lookup failed", logx.String("title", d.Title), logx.Err(err))
			matches = nil
		}

		embeds = append(embeds, transport.Embed{
			Title:       d.Title,
			Description: fmt.Sprintf("Recently added book for [%s](%s)", label, b.links.BaseURL()),
			URL:         b.links.ItemURL(d.ItemID),
			Color:       b.color.value(),
			ImageURL:    b.cover(ctx, d.ItemID),
			Footer:      b.footer(label),
			Fields: []transport.EmbedField{
				{Name: "Title", Value: d.Title},
				{Name: "Author", Value: d.Author, Inline: true},
				{Name: "Added Time", Value: d.AddedTime, Inline: true},
				{Name: "Additional Information", Value: fmt.Sprintf("Wishlisted: **%t**", len(matches) > 0)},
			},
		})

		if !notifyWishlist {
			continue
		}
		for _, m := range matches {
			b.fulfill(ctx, m, d, embeds)
		}
	}
	return embeds
}

// BuildFinishedBookEmbeds builds one numbered embed per finished record.
func (b *Builder) BuildFinishedBookEmbeds(ctx context.Context, records []scan.FinishedRecord, label string) []transport.Embed {
	label = labelOr(label)
	embeds := make([]transport.Embed, 0, len(records))
	for i, r := range records {
		embeds = append(embeds, transport.Embed{
			Title:       fmt.Sprintf("%d. Recently Finished Book | %s", i+1, r.Title),
			Description: fmt.Sprintf("Recently finished books for [%s](%s)", label, b.links.BaseURL()),
			URL:         b.links.ItemURL(r.ItemID),
			Color:       b.color.value(),
			ImageURL:    b.cover(ctx, r.ItemID),
			Footer:      b.footer(label),
			Fields: []transport.EmbedField{
				{Name: "Title", Value: r.Title},
				{Name: "Finished Time", Value: r.FinishedTime, Inline: true},
				{Name: "Finished by User", Value: r.Username},
			},
		})
	}
	return embeds
}

func (b *Builder) fulfill(ctx context.Context, e storage.WishlistEntry, d scan.Delta, built []transport.Embed) {
	log := b.log.With(logx.Int64("subscriber_id", e.SubscriberID), logx.String("title", d.Title))

	name, err := b.users.UserDisplayName(ctx, e.SubscriberID)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			log.Warn("wishlist subscriber not found; skipping dm")
		} else {
			log.Warn("wishlist subscriber lookup failed; skipping dm", logx.Err(err))
		}
		return
	}

	n := transport.Notification{
		Channel: wishlistChannel,
		UserID:  e.SubscriberID,
		Text: fmt.Sprintf("Hello **%s**, one of your wishlisted books has become available! **%s** by author **%s** is now available on your Audiobookshelf server: **%s**!",
			name, d.Title, d.Author, b.subscriberLabel(ctx, e.SubscriberID)),
		Embeds: append([]transport.Embed(nil), built...),
	}
	if err := b.notifier.Notify(ctx, n); err != nil {
		log.Warn("wishlist dm not queued", logx.Err(err))
		return
	}
	if _, err := b.wishlist.MarkWishlistFulfilled(ctx, e.SubscriberID, e.Title); err != nil {
		log.Warn("wishlist mark fulfilled failed", logx.Err(err))
		return
	}
	log.Info("wishlist entry fulfilled")
}

// subscriberLabel is the server label of the subscriber's own new-book registration.
func (b *Builder) subscriberLabel(ctx context.Context, subscriberID int64) string {
	rows, err := b.wishlist.FindTasks(ctx, storage.TaskFilter{SubscriberID: subscriberID, Kind: storage.KindNewBook})
	if err != nil || len(rows) == 0 {
		return defaultLabel
	}
	return labelOr(rows[0].ServerName)
}

func (b *Builder) cover(ctx context.Context, itemID string) string {
	u, err := b.links.CoverURL(ctx, itemID)
	if err != nil {
		b.log.Debug("cover lookup failed", logx.String("item_id", itemID), logx.Err(err))
	}
	if u == "" {
		return b.cfg.DefaultCover
	}
	return u
}

func (b *Builder) footer(label string) string {
	if b.cfg.Footer == "" {
		return label
	}
	return b.cfg.Footer + " | " + label
}

func labelOr(label string) string {
	if strings.TrimSpace(label) == "" {
		return defaultLabel
	}
	return label
}
