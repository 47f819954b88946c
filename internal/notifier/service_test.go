package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shelfbot/internal/eventbus"
	kit "shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type sentDM struct {
	userID int64
	text   string
	embeds int
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentDM
	calls int
	errs  []error // consumed per call
}

func (f *fakeSender) SendDirect(_ context.Context, userID int64, content string, embeds []kit.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentDM{userID: userID, text: content, embeds: len(embeds)})
	return nil
}

func (f *fakeSender) snapshot() ([]sentDM, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDM(nil), f.sent...), f.calls
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   16,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func embeds(n int) []kit.Embed {
	out := make([]kit.Embed, n)
	for i := range out {
		out[i] = kit.Embed{Title: fmt.Sprintf("book %d", i)}
	}
	return out
}

func runAndStop(t *testing.T, s *Service, fn func()) {
	t.Helper()
	ctx := context.Background()
	s.Start(ctx)
	fn()
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
}

func TestSplitsOversizedEmbedLists(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	s := New(testConfig(), f, logx.Nop(), nil, nil)

	runAndStop(t, s, func() {
		require.NoError(t, s.Notify(context.Background(), kit.Notification{Channel: "wishlist", UserID: 1, Text: "hi", Embeds: embeds(10)}))
		require.NoError(t, s.Notify(context.Background(), kit.Notification{Channel: "wishlist", UserID: 2, Text: "hi", Embeds: embeds(11)}))
	})

	sent, _ := f.snapshot()
	require.Len(t, sent, 12)
	assert.Equal(t, sentDM{userID: 1, text: "hi", embeds: 10}, sent[0])
	for _, d := range sent[1:] {
		assert.Equal(t, int64(2), d.userID)
		assert.Equal(t, 1, d.embeds)
		assert.Equal(t, "hi", d.text)
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(testConfig(), f, logx.Nop(), bus, nil)

	n := kit.Notification{Channel: "wishlist", UserID: 1, Text: "same"}
	runAndStop(t, s, func() {
		require.NoError(t, s.Notify(context.Background(), n))
		require.NoError(t, s.Notify(context.Background(), n))
	})

	sent, _ := f.snapshot()
	assert.Len(t, sent, 1)

	var deduped bool
	for len(events) > 0 {
		if (<-events).Type == eventbus.TypeNotifierDedup {
			deduped = true
		}
	}
	assert.True(t, deduped)
}

func TestRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	f := &fakeSender{errs: []error{errors.New("rate limited"), nil}}
	s := New(testConfig(), f, logx.Nop(), nil, nil)

	runAndStop(t, s, func() {
		require.NoError(t, s.Notify(context.Background(), kit.Notification{UserID: 3, Text: "x"}))
	})
	sent, calls := f.snapshot()
	assert.Len(t, sent, 1)
	assert.Equal(t, 2, calls)
	assert.Len(t, s.Snapshot(), 1)
}

func TestMissingRecipientIsNotRetried(t *testing.T) {
	t.Parallel()
	f := &fakeSender{errs: []error{kit.ErrNotFound, kit.ErrNotFound, kit.ErrNotFound}}
	s := New(testConfig(), f, logx.Nop(), nil, nil)

	runAndStop(t, s, func() {
		require.NoError(t, s.Notify(context.Background(), kit.Notification{UserID: 4, Text: "gone"}))
	})
	_, calls := f.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Snapshot())
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{UserID: 1}), ErrDisabled)

	s = New(testConfig(), &fakeSender{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{UserID: 1}), ErrStopped)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (m *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = until
	return nil
}

func (m *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.m[key]
	return u, ok, nil
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	store := &memDedup{m: map[string]time.Time{}}
	cfg := testConfig()
	cfg.PersistDedup = true
	n := kit.Notification{Channel: "owner", UserID: 9, Text: "new version"}

	first := &fakeSender{}
	s := New(cfg, first, logx.Nop(), nil, store)
	runAndStop(t, s, func() { require.NoError(t, s.Notify(context.Background(), n)) })

	second := &fakeSender{}
	s = New(cfg, second, logx.Nop(), nil, store)
	runAndStop(t, s, func() { require.NoError(t, s.Notify(context.Background(), n)) })

	sent, _ := first.snapshot()
	assert.Len(t, sent, 1)
	sent, _ = second.snapshot()
	assert.Empty(t, sent)
}
