package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shelfbot/internal/storage"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

const owner = int64(99)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  []storage.Task
	users  map[string]string
}

func newMemStore() *memStore { return &memStore{users: map[string]string{}} }

func (m *memStore) CreateTask(_ context.Context, t storage.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.tasks {
		if x.ChannelID == t.ChannelID && x.Kind == t.Kind {
			return false, storage.ErrConflict
		}
	}
	m.nextID++
	t.ID = m.nextID
	m.tasks = append(m.tasks, t)
	return true, nil
}

func (m *memStore) DeleteTask(_ context.Context, key storage.TaskKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.tasks {
		if x.ID == key.ID {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindTasks(_ context.Context, f storage.TaskFilter) ([]storage.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Task
	for _, x := range m.tasks {
		if (f.SubscriberID == 0 || x.SubscriberID == f.SubscriberID) && (f.Kind == "" || x.Kind == f.Kind) {
			out = append(out, x)
		}
	}
	return out, nil
}

func (m *memStore) PutUser(_ context.Context, u storage.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Username] = u.Token
	return nil
}

func (m *memStore) UserToken(_ context.Context, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.users[username]
	if !ok {
		return "", storage.ErrNotFound
	}
	return tok, nil
}

func (m *memStore) SearchUsers(_ context.Context, _ string, _ int) ([]storage.User, error) {
	return []storage.User{{Username: "alice"}, {Username: "alice"}, {Username: "bob"}}, nil
}

type fakeLoops struct {
	running  map[storage.Kind]bool
	color    int
	lookback []transport.Embed
}

func (f *fakeLoops) Enable(_ context.Context, k storage.Kind) error {
	f.running[k] = true
	return nil
}

func (f *fakeLoops) Disable(k storage.Kind) bool {
	was := f.running[k]
	f.running[k] = false
	return was
}

func (f *fakeLoops) Running(k storage.Kind) bool { return f.running[k] }
func (f *fakeLoops) Interval() time.Duration     { return 5 * time.Minute }

func (f *fakeLoops) SetColor(i int) bool {
	f.color = i
	return true
}

func (f *fakeLoops) Lookback(context.Context, time.Duration, string) ([]transport.Embed, error) {
	return f.lookback, nil
}

type fakeDir struct{}

func (fakeDir) ChannelName(_ context.Context, id int64) (string, error) {
	if id == 404 {
		return "", transport.ErrNotFound
	}
	return fmt.Sprintf("chan-%d", id), nil
}

func (fakeDir) UserDisplayName(_ context.Context, id int64) (string, error) {
	return fmt.Sprintf("user-%d", id), nil
}

type harness struct {
	router *Router
	store  *memStore
	loops  *fakeLoops
}

func newHarness() *harness {
	store := newMemStore()
	loops := &fakeLoops{running: map[storage.Kind]bool{}}
	r := NewRouter(logx.Nop(), owner)
	r.Register(NewHandlers(store, loops, fakeDir{}, "Shelf", logx.Nop()).Commands()...)
	return &harness{router: r, store: store, loops: loops}
}

// run routes a command inline and returns the reply.
func (h *harness) run(t *testing.T, caller int64, name string, opts map[string]transport.Option) transport.Response {
	t.Helper()
	var got []transport.Response
	h.router.Route(context.Background(), transport.Update{
		Kind:    transport.UpdateCommand,
		Command: &transport.Command{Name: name, CallerID: caller, ChannelID: 1, Options: opts},
		Reply: func(_ context.Context, r transport.Response) error {
			got = append(got, r)
			return nil
		},
	})
	require.Len(t, got, 1)
	return got[0]
}

func str(s string) transport.Option { return transport.Option{String: s, IsSet: true} }

func TestSetupTaskAndDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.store.users["alice"] = "T1"
	opts := map[string]transport.Option{
		"task":        str("1"),
		"channel":     {Int: 500, String: "books", IsSet: true},
		"user":        str("alice"),
		"server_name": str("MyServer"),
		"color":       str("3"),
	}

	resp := h.run(t, owner, "setup-tasks", opts)
	assert.Contains(t, resp.Text, "Successfully setup task **new-book-check** with channel **books**")
	assert.True(t, resp.Ephemeral)
	assert.True(t, h.loops.running[storage.KindNewBook])
	assert.Equal(t, 3, h.loops.color)
	require.Len(t, h.store.tasks, 1)
	assert.Equal(t, "T1", h.store.tasks[0].Token)

	resp = h.run(t, owner, "setup-tasks", opts)
	assert.Contains(t, resp.Text, "Most likely due to the task already being setup")
	assert.Len(t, h.store.tasks, 1)
}

func TestSetupTaskUnknownUser(t *testing.T) {
	t.Parallel()
	h := newHarness()
	resp := h.run(t, owner, "setup-tasks", map[string]transport.Option{
		"task": str("finished-book-check"), "channel": {Int: 500, IsSet: true}, "user": str("ghost"), "server_name": str("S"),
	})
	assert.Contains(t, resp.Text, "**ghost** is not stored")
	assert.Empty(t, h.store.tasks)
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()
	h := newHarness()
	resp := h.run(t, 1, "add-user", map[string]transport.Option{"username": str("a"), "token": str("b")})
	assert.Equal(t, "You are not allowed to use this command.", resp.Text)
	assert.Empty(t, h.store.users)

	resp = h.run(t, owner, "add-user", map[string]transport.Option{"username": str("a"), "token": str("b")})
	assert.Equal(t, "Successfully stored user **a**.", resp.Text)
	assert.Equal(t, "b", h.store.users["a"])
}

func TestRemoveTask(t *testing.T) {
	t.Parallel()
	h := newHarness()
	_, _ = h.store.CreateTask(context.Background(), storage.Task{ChannelID: 5, Kind: storage.KindNewBook})

	assert.Equal(t, "Failed to remove task, please visit logs for additional details.",
		h.run(t, owner, "remove-task", map[string]transport.Option{"task": str("42")}).Text)
	assert.Equal(t, "Successfully removed task!",
		h.run(t, owner, "remove-task", map[string]transport.Option{"task": str("1")}).Text)
	assert.Empty(t, h.store.tasks)
}

func TestNewBookCheckActions(t *testing.T) {
	t.Parallel()
	h := newHarness()

	resp := h.run(t, 7, "new-book-check", map[string]transport.Option{
		"action": str("enable"), "disable_task": {Bool: true, IsSet: true},
	})
	assert.Contains(t, resp.Text, "only one option")

	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"action": str("enable")})
	assert.Contains(t, resp.Text, "/setup-tasks")
	assert.False(t, h.loops.running[storage.KindNewBook])

	_, _ = h.store.CreateTask(context.Background(), storage.Task{SubscriberID: 7, ChannelID: 5, Kind: storage.KindNewBook})
	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"enable_task": {Bool: true, IsSet: true}})
	assert.Equal(t, "Activating New Book Task! This task will automatically refresh every *5 minutes*!", resp.Text)
	assert.True(t, h.loops.running[storage.KindNewBook])

	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"action": str("enable")})
	assert.Equal(t, "New book check task is already running, ignoring...", resp.Text)

	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"action": str("disable")})
	assert.Equal(t, "Disabled Task: *Recently Added Books*", resp.Text)

	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"color": str("Green")})
	assert.Equal(t, "Successfully updated color!", resp.Text)
	assert.Equal(t, 6, h.loops.color)

	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"action": str("configure")})
	assert.Equal(t, "Please provide a color to configure.", resp.Text)
}

func TestNewBookCheckLookback(t *testing.T) {
	t.Parallel()
	h := newHarness()
	resp := h.run(t, 7, "new-book-check", map[string]transport.Option{"minutes": {Int: 30, IsSet: true}})
	assert.Equal(t, "No recent books found in given search period of 30 minutes.", resp.Text)

	h.loops.lookback = []transport.Embed{{Title: "Dune"}}
	resp = h.run(t, 7, "new-book-check", map[string]transport.Option{"minutes": {Int: 30, IsSet: true}})
	assert.Len(t, resp.Embeds, 1)
	assert.True(t, resp.Ephemeral)
}

func TestActiveTasks(t *testing.T) {
	t.Parallel()
	h := newHarness()
	assert.Equal(t, "No currently active tasks found.", h.run(t, 7, "active-tasks", nil).Text)

	_, _ = h.store.CreateTask(context.Background(), storage.Task{SubscriberID: 7, ChannelID: 5, Kind: storage.KindNewBook})
	_, _ = h.store.CreateTask(context.Background(), storage.Task{SubscriberID: 7, ChannelID: 404, Kind: storage.KindNewBook})
	resp := h.run(t, 7, "active-tasks", nil)
	require.Len(t, resp.Embeds, 1)
	assert.Equal(t, "Channel: **chan-5**\nDiscord User: **user-7**", resp.Embeds[0].Fields[1].Value)
}

func TestAutocomplete(t *testing.T) {
	t.Parallel()
	h := newHarness()
	_, _ = h.store.CreateTask(context.Background(), storage.Task{SubscriberID: owner, ChannelID: 5, Kind: storage.KindFinishedBook})

	suggest := func(name, focused string) []transport.Choice {
		var got []transport.Choice
		h.router.Route(context.Background(), transport.Update{
			Kind:    transport.UpdateAutocomplete,
			Command: &transport.Command{Name: name, CallerID: owner, Focused: focused},
			Suggest: func(_ context.Context, c []transport.Choice) error {
				got = c
				return nil
			},
		})
		return got
	}

	assert.Equal(t, []transport.Choice{{Name: "new-book-check", Value: "1"}, {Name: "finished-book-check", Value: "2"}}, suggest("setup-tasks", "task"))
	assert.Equal(t, []transport.Choice{{Name: "finished-book-check | chan-5", Value: "1"}}, suggest("remove-task", "task"))
	assert.Equal(t, []transport.Choice{{Name: "alice", Value: "alice"}, {Name: "bob", Value: "bob"}}, suggest("setup-tasks", "user"))
	colors := suggest("new-book-check", "color")
	require.Len(t, colors, 7)
	assert.Equal(t, transport.Choice{Name: "Yellow", Value: "1"}, colors[1])
}

func TestHandlerPanicRepliesWithError(t *testing.T) {
	t.Parallel()
	r := NewRouter(logx.Nop(), owner)
	r.Register(Command{
		Spec:   transport.CommandSpec{Name: "boom"},
		Handle: func(context.Context, *Request) error { panic("kaboom") },
	})
	var got string
	r.Route(context.Background(), transport.Update{
		Kind:    transport.UpdateCommand,
		Command: &transport.Command{Name: "boom"},
		Reply: func(_ context.Context, resp transport.Response) error {
			got = resp.Text
			return nil
		},
	})
	assert.Contains(t, got, "Something went wrong")
}

func TestDispatchLoopRunsQueuedCommands(t *testing.T) {
	t.Parallel()
	r := NewRouter(logx.Nop(), owner)
	done := make(chan struct{})
	r.Register(Command{
		Spec: transport.CommandSpec{Name: "ping"},
		Handle: func(ctx context.Context, req *Request) error {
			close(done)
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- r.DispatchLoop(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateCommand, Command: &transport.Command{Name: "ping"}}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action          string
		enable, disable bool
		want            Action
		wantErr         bool
	}{
		{want: ActionNone},
		{action: "Enable", want: ActionEnable},
		{enable: true, want: ActionEnable},
		{action: "enable", enable: true, want: ActionEnable},
		{enable: true, disable: true, wantErr: true},
		{action: "configure", disable: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseAction(tt.action, tt.enable, tt.disable)
		if tt.wantErr {
			require.True(t, errors.Is(err, ErrInvalidAction))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	err := newBookCheckRequest{Minutes: 5, Action: "explode"}.validate()
	require.ErrorIs(t, err, ErrInvalidAction)
	require.Error(t, newBookCheckRequest{Minutes: 0}.validate())
	require.NoError(t, newBookCheckRequest{Minutes: 5, Color: "Red", Action: ActionDisable}.validate())
}
