package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logx "shelfbot/pkg/logx"
)

func TestScopeRestoresOnEveryExit(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		body    func(ctx context.Context) error
		wantErr error
		panics  bool
	}{
		{name: "normal", body: func(context.Context) error { return nil }},
		{name: "early return", body: func(ctx context.Context) error {
			if _, ok := FromContext(ctx); ok {
				return nil
			}
			return errBoom
		}},
		{name: "error", body: func(context.Context) error { return errBoom }, wantErr: errBoom},
		{name: "panic", body: func(context.Context) error { panic("kaboom") }, panics: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager("default", logx.Nop())
			var seen string
			run := func() error {
				return m.WithScopedCredential(context.Background(), "T1", func(ctx context.Context) error {
					seen = m.Ambient()
					assert.Equal(t, "T1", m.Token(ctx))
					return tt.body(ctx)
				})
			}
			if tt.panics {
				assert.Panics(t, func() { _ = run() })
			} else {
				err := run()
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				} else {
					require.NoError(t, err)
				}
			}
			assert.Equal(t, "T1", seen)
			assert.Equal(t, "default", m.Ambient())
			assert.Equal(t, "default", m.Token(context.Background()))
		})
	}
}

func TestEmptyTokenKeepsAmbient(t *testing.T) {
	t.Parallel()
	m := NewManager("default", logx.Nop())
	err := m.WithScopedCredential(context.Background(), "", func(ctx context.Context) error {
		assert.Equal(t, "default", m.Token(ctx))
		return nil
	})
	require.NoError(t, err)
}

func TestScopesDoNotInterleave(t *testing.T) {
	t.Parallel()
	m := NewManager("default", logx.Nop())

	var wg sync.WaitGroup
	for _, tok := range []string{"A", "B", "C", "D"} {
		tok := tok
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithScopedCredential(context.Background(), tok, func(ctx context.Context) error {
				for i := 0; i < 100; i++ {
					assert.Equal(t, tok, m.Ambient())
					assert.Equal(t, tok, m.Token(ctx))
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, "default", m.Ambient())
}

func TestScopeWaitHonorsContext(t *testing.T) {
	t.Parallel()
	m := NewManager("default", logx.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithScopedCredential(context.Background(), "long", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := m.WithScopedCredential(ctx, "short", func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Equal(t, "long", m.Ambient())

	close(release)
	<-done
	assert.Equal(t, "default", m.Ambient())

	require.NoError(t, m.WithScopedCredential(context.Background(), "next", func(context.Context) error { return nil }))
}
