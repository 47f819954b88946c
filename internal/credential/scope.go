// Package credential owns the Audiobookshelf token that outbound API calls run under.
//
// The manager keeps an ambient slot holding the default token. A scope swaps
// the slot to a registration's token for the duration of one body and
// restores the previous value on every exit path. Scopes also place the
// token in the context, so collaborators that read Token(ctx) never observe
// another scope's credential.
package credential

import (
	"context"
	"fmt"
	"sync"

	logx "shelfbot/pkg/logx"
)

// Source resolves the token for an outbound call.
type Source interface {
	Token(ctx context.Context) string
}

type ctxKey struct{}

// WithToken returns a child context carrying token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// FromContext returns the token stored by WithToken.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tok, ok := ctx.Value(ctxKey{}).(string)
	return tok, ok && tok != ""
}

type Manager struct {
	// scope admits one scoped body at a time; the ambient slot is process-wide.
	scope chan struct{}

	mu      sync.RWMutex
	ambient string

	log logx.Logger
}

func NewManager(defaultToken string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{ambient: defaultToken, log: log, scope: make(chan struct{}, 1)}
}

// Ambient returns the token currently in the process-wide slot.
func (m *Manager) Ambient() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ambient
}

// Token prefers a scoped token from ctx and falls back to the ambient slot.
func (m *Manager) Token(ctx context.Context) string {
	if tok, ok := FromContext(ctx); ok {
		return tok
	}
	return m.Ambient()
}

func (m *Manager) swap(token string) string {
	m.mu.Lock()
	prev := m.ambient
	m.ambient = token
	m.mu.Unlock()
	return prev
}

// WithScopedCredential runs body with token active and restores the previous
// ambient token when body returns, returns early with an error, or panics.
// An empty token keeps the current ambient token for the scope.
// Waiting for another scope to finish gives up when ctx is done; body does not run then.
func (m *Manager) WithScopedCredential(ctx context.Context, token string, body func(ctx context.Context) error) error {
	select {
	case m.scope <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("credential scope: %w", ctx.Err())
	}
	defer func() { <-m.scope }()

	if token == "" {
		token = m.Ambient()
	}
	prev := m.swap(token)
	defer func() {
		m.swap(prev)
		m.log.Trace("credential scope restored")
	}()

	return body(WithToken(ctx, token))
}
