package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shelfbot/internal/scan"
	"shelfbot/internal/storage"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   [][]transport.Embed
	edits  [][]transport.Embed
	failOn int // 1-based message index; 0 disables
	err    error
}

func (f *fakeSender) SendMessage(_ context.Context, channelID int64, _ string, embeds []transport.Embed) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn > 0 && len(f.sent)+1 == f.failOn {
		f.failOn = 0
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, embeds)
	return transport.MessageRef{ChannelID: channelID, MessageID: int64(len(f.sent))}, nil
}

func (f *fakeSender) EditEmbeds(_ context.Context, _ transport.MessageRef, embeds []transport.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, embeds)
	return nil
}

func makeEmbeds(n int) []transport.Embed {
	out := make([]transport.Embed, n)
	for i := range out {
		out[i] = transport.Embed{Title: fmt.Sprintf("book %d", i)}
	}
	return out
}

func TestDeliverBatching(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		embeds    int
		wantSent  int
		wantEdits int
	}{
		{name: "empty", embeds: 0, wantSent: 0},
		{name: "nine embeds ride one message", embeds: 9, wantSent: 1, wantEdits: 1},
		{name: "ten embeds are split", embeds: 10, wantSent: 11},
		{name: "twelve embeds are split", embeds: 12, wantSent: 13},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &fakeSender{}
			n, err := Deliver(context.Background(), s, 42, NewBooksMessage, makeEmbeds(tt.embeds))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSent, n)
			assert.Len(t, s.sent, tt.wantSent)
			assert.Len(t, s.edits, tt.wantEdits)
			if tt.wantEdits == 1 {
				assert.Len(t, s.edits[0], tt.embeds)
			}
			for _, msg := range s.sent[min(1, len(s.sent)):] {
				assert.Len(t, msg, 1)
			}
		})
	}
}

func TestDeliverMissingChannel(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failOn: 1, err: transport.ErrNotFound}
	n, err := Deliver(context.Background(), s, 42, FinishedBooksMessage, makeEmbeds(3))
	require.ErrorIs(t, err, transport.ErrNotFound)
	assert.Zero(t, n)
}

func TestDeliverContinuesAfterOneEmbedFails(t *testing.T) {
	t.Parallel()
	s := &fakeSender{failOn: 3, err: errors.New("boom")}
	n, err := Deliver(context.Background(), s, 42, NewBooksMessage, makeEmbeds(10))
	require.Error(t, err)
	assert.Equal(t, 10, n)
}

type fakeLinks struct{ covers map[string]string }

func (fakeLinks) BaseURL() string          { return "http://abs.local" }
func (fakeLinks) ItemURL(id string) string { return "https://abs.example/item/" + id }
func (f fakeLinks) CoverURL(_ context.Context, id string) (string, error) {
	if u, ok := f.covers[id]; ok {
		return u, nil
	}
	return "", errors.New("no cover")
}

type fakeWishlist struct {
	mu        sync.Mutex
	entries   map[string][]storage.WishlistEntry
	fulfilled []string
	tasks     []storage.Task
}

func (f *fakeWishlist) SearchWishlist(_ context.Context, title string) ([]storage.WishlistEntry, error) {
	return f.entries[title], nil
}

func (f *fakeWishlist) MarkWishlistFulfilled(_ context.Context, sub int64, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfilled = append(f.fulfilled, fmt.Sprintf("%d:%s", sub, title))
	return true, nil
}

func (f *fakeWishlist) FindTasks(_ context.Context, filter storage.TaskFilter) ([]storage.Task, error) {
	var out []storage.Task
	for _, t := range f.tasks {
		if t.SubscriberID == filter.SubscriberID && t.Kind == filter.Kind {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []transport.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n transport.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

type fakeDirectory map[int64]string

func (d fakeDirectory) UserDisplayName(_ context.Context, id int64) (string, error) {
	if n, ok := d[id]; ok {
		return n, nil
	}
	return "", transport.ErrNotFound
}

func TestBuildNewBookEmbeds(t *testing.T) {
	t.Parallel()
	wl := &fakeWishlist{
		entries: map[string][]storage.WishlistEntry{
			"Dune": {{SubscriberID: 7, Title: "dune"}, {SubscriberID: 8, Title: "Dune"}},
		},
		tasks: []storage.Task{{SubscriberID: 7, Kind: storage.KindNewBook, ServerName: "Home"}},
	}
	notes := &fakeNotifier{}
	b := NewBuilder(Config{Footer: "Shelf", Color: 3},
		fakeLinks{covers: map[string]string{"i1": "https://abs.example/cover/i1"}},
		wl, notes, fakeDirectory{7: "Paul"}, logx.Nop())

	deltas := []scan.Delta{
		{Title: "Dune", Author: "Frank Herbert", ItemID: "i1", AddedTime: "2024/01/01 10:00"},
		{Title: "Emma", Author: "Jane Austen", ItemID: "i2", AddedTime: "2024/01/01 10:01"},
	}
	embeds := b.BuildNewBookEmbeds(context.Background(), deltas, "MyServer", true)
	require.Len(t, embeds, 2)

	e := embeds[0]
	assert.Equal(t, "Dune", e.Title)
	assert.Equal(t, "Recently added book for [MyServer](http://abs.local)", e.Description)
	assert.Equal(t, "https://abs.example/item/i1", e.URL)
	assert.Equal(t, "https://abs.example/cover/i1", e.ImageURL)
	assert.Equal(t, "Shelf | MyServer", e.Footer)
	assert.Equal(t, Palette[3].Value, e.Color)
	assert.Equal(t, "Wishlisted: **true**", e.Fields[3].Value)
	assert.False(t, e.Fields[0].Inline)

	assert.Equal(t, defaultCover, embeds[1].ImageURL)
	assert.Equal(t, "Wishlisted: **false**", embeds[1].Fields[3].Value)

	// subscriber 8 is not resolvable: no dm, entry stays open
	require.Len(t, notes.sent, 1)
	dm := notes.sent[0]
	assert.Equal(t, int64(7), dm.UserID)
	assert.Equal(t, "Hello **Paul**, one of your wishlisted books has become available! **Dune** by author **Frank Herbert** is now available on your Audiobookshelf server: **Home**!", dm.Text)
	assert.Len(t, dm.Embeds, 1)
	assert.Equal(t, []string{"7:dune"}, wl.fulfilled)
}

func TestBuildNewBookEmbedsWithoutNotifications(t *testing.T) {
	t.Parallel()
	wl := &fakeWishlist{entries: map[string][]storage.WishlistEntry{"Dune": {{SubscriberID: 7, Title: "Dune"}}}}
	notes := &fakeNotifier{}
	b := NewBuilder(Config{}, fakeLinks{}, wl, notes, fakeDirectory{7: "Paul"}, logx.Nop())

	embeds := b.BuildNewBookEmbeds(context.Background(), []scan.Delta{{Title: "Dune", ItemID: "i1"}}, "", false)
	require.Len(t, embeds, 1)
	assert.Equal(t, "Audiobookshelf", embeds[0].Footer)
	assert.Empty(t, notes.sent)
	assert.Empty(t, wl.fulfilled)
}

func TestBuildFinishedBookEmbeds(t *testing.T) {
	t.Parallel()
	b := NewBuilder(Config{Footer: "Shelf"}, fakeLinks{}, &fakeWishlist{}, &fakeNotifier{}, fakeDirectory{}, logx.Nop())
	recs := []scan.FinishedRecord{
		{Title: "Dune", ItemID: "i1", Username: "alice", FinishedTime: "2024/01/01 10:00"},
		{Title: "Emma", ItemID: "i2", Username: "bob", FinishedTime: "2024/01/01 10:05"},
	}
	embeds := b.BuildFinishedBookEmbeds(context.Background(), recs, "MyServer")
	require.Len(t, embeds, 2)
	assert.Equal(t, "1. Recently Finished Book | Dune", embeds[0].Title)
	assert.Equal(t, "2. Recently Finished Book | Emma", embeds[1].Title)
	assert.Equal(t, "Recently finished books for [MyServer](http://abs.local)", embeds[0].Description)
	assert.Equal(t, "bob", embeds[1].Fields[2].Value)
	assert.Equal(t, Palette[0].Value, embeds[0].Color)
}

func TestParseColorAndSetColor(t *testing.T) {
	t.Parallel()
	i, ok := ParseColor("Purple")
	require.True(t, ok)
	assert.Equal(t, 3, i)
	_, ok = ParseColor("7")
	assert.False(t, ok)

	b := NewBuilder(Config{}, fakeLinks{}, &fakeWishlist{}, &fakeNotifier{}, fakeDirectory{}, logx.Nop())
	assert.True(t, b.SetColor(5))
	assert.Equal(t, Palette[5].Value, b.ColorValue())
	assert.False(t, b.SetColor(9))
	assert.Equal(t, Palette[5].Value, b.ColorValue())
}
