package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shelfbot/internal/batch"
	"shelfbot/internal/storage"
	"shelfbot/internal/subscription"
	"shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type Store interface {
	CreateTask(ctx context.Context, t storage.Task) (bool, error)
	DeleteTask(ctx context.Context, key storage.TaskKey) (bool, error)
	FindTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
	PutUser(ctx context.Context, u storage.User) error
	UserToken(ctx context.Context, username string) (string, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]storage.User, error)
}

// Loops is the subscription control surface. *subscription.Manager satisfies it.
type Loops interface {
	Enable(ctx context.Context, kind storage.Kind) error
	Disable(kind storage.Kind) bool
	Running(kind storage.Kind) bool
	SetColor(idx int) bool
	Interval() time.Duration
	Lookback(ctx context.Context, window time.Duration, label string) ([]transport.Embed, error)
}

type Directory interface {
	ChannelName(ctx context.Context, channelID int64) (string, error)
	UserDisplayName(ctx context.Context, userID int64) (string, error)
}

type Handlers struct {
	store  Store
	loops  Loops
	dir    Directory
	footer string
	log    logx.Logger
}

func NewHandlers(store Store, loops Loops, dir Directory, footer string, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{store: store, loops: loops, dir: dir, footer: footer, log: log}
}

// Commands returns the slash command set.
func (h *Handlers) Commands() []Command {
	colorOpt := transport.OptionSpec{Name: "color", Description: "Embed accent color.", Type: transport.OptionString, Autocomplete: true}
	return []Command{
		{
			Spec: transport.CommandSpec{
				Name:        "new-book-check",
				Description: "Verify if a new book has been added to your library. Can be setup as a task.",
				Options: []transport.OptionSpec{
					{Name: "minutes", Description: "Lookback period, in minutes. Does not affect the task.", Type: transport.OptionInteger},
					colorOpt,
					{Name: "action", Description: "Control the recurring task.", Type: transport.OptionString, Choices: []transport.Choice{
						{Name: "enable", Value: string(ActionEnable)},
						{Name: "disable", Value: string(ActionDisable)},
						{Name: "configure", Value: string(ActionConfigure)},
					}},
					{Name: "enable_task", Description: "If set to true will enable recurring task.", Type: transport.OptionBool},
					{Name: "disable_task", Description: "If set to true, this will disable the task.", Type: transport.OptionBool},
				},
			},
			Timeout:  2 * time.Minute,
			Handle:   h.newBookCheck,
			Complete: map[string]CompleteFunc{"color": h.completeColor},
		},
		{
			Spec: transport.CommandSpec{
				Name:        "setup-tasks",
				Description: "Setup a task",
				GuildOnly:   true,
				Options: []transport.OptionSpec{
					{Name: "task", Description: "The task you wish to setup", Type: transport.OptionString, Required: true, Autocomplete: true},
					{Name: "channel", Description: "select a channel", Type: transport.OptionChannel, Required: true},
					{Name: "user", Description: "Select a stored user for the task to be executed by.", Type: transport.OptionString, Required: true, Autocomplete: true},
					{Name: "server_name", Description: "Give your Audiobookshelf server a nickname.", Type: transport.OptionString, Required: true},
					colorOpt,
				},
			},
			Access:  AccessOwnerOnly,
			Timeout: 30 * time.Second,
			Handle:  h.setupTask,
			Complete: map[string]CompleteFunc{
				"task":  h.completeKind,
				"user":  h.completeUser,
				"color": h.completeColor,
			},
		},
		{
			Spec: transport.CommandSpec{
				Name:        "remove-task",
				Description: "Remove an active task from the task db.",
				Options: []transport.OptionSpec{
					{Name: "task", Description: "Active tasks. Autofill format: task | channel name.", Type: transport.OptionString, Required: true, Autocomplete: true},
				},
			},
			Access:   AccessOwnerOnly,
			Timeout:  30 * time.Second,
			Handle:   h.removeTask,
			Complete: map[string]CompleteFunc{"task": h.completeOwnTasks},
		},
		{
			Spec:    transport.CommandSpec{Name: "active-tasks", Description: "View active tasks related to you."},
			Timeout: 30 * time.Second,
			Handle:  h.activeTasks,
		},
		{
			Spec: transport.CommandSpec{
				Name:        "add-user",
				Description: "Store an Audiobookshelf user token for task setup.",
				Options: []transport.OptionSpec{
					{Name: "username", Description: "Audiobookshelf username", Type: transport.OptionString, Required: true},
					{Name: "token", Description: "Audiobookshelf API token", Type: transport.OptionString, Required: true},
				},
			},
			Access:  AccessOwnerOnly,
			Timeout: 10 * time.Second,
			Handle:  h.addUser,
		},
	}
}

func (h *Handlers) newBookCheck(ctx context.Context, req *Request) error {
	c := req.Cmd
	defMinutes := int(h.loops.Interval().Minutes())
	minutes := defMinutes
	if v, ok := c.Int("minutes"); ok {
		minutes = int(v)
	}
	action, err := parseAction(c.Str("action"), c.Options["enable_task"].Bool, c.Options["disable_task"].Bool)
	if err != nil {
		req.Log.Debug("new-book-check rejected", logx.Err(err))
		return req.Reply(ctx, "Invalid option entered, please ensure only one option is entered from this command at a time.")
	}
	r := newBookCheckRequest{Minutes: minutes, Color: c.Str("color"), Action: action}
	if err := r.validate(); err != nil {
		return req.Reply(ctx, "Invalid option entered: "+err.Error())
	}

	// A bare color at the default lookback only restyles the embeds.
	if (r.Color != "" && minutes == defMinutes && action == ActionNone) || action == ActionConfigure {
		if r.Color == "" {
			return req.Reply(ctx, "Please provide a color to configure.")
		}
		h.applyColor(r.Color)
		return req.Reply(ctx, "Successfully updated color!")
	}

	switch action {
	case ActionEnable:
		return h.enableNewBook(ctx, req, r.Color)
	case ActionDisable:
		if h.loops.Disable(storage.KindNewBook) {
			h.applyColor(r.Color)
			return req.Reply(ctx, "Disabled Task: *Recently Added Books*")
		}
		return req.Reply(ctx, "New book check task is not running.")
	}

	label := h.callerLabel(ctx, c.CallerID)
	h.applyColor(r.Color)
	embeds, err := h.loops.Lookback(ctx, time.Duration(minutes)*time.Minute, label)
	if err != nil {
		return fmt.Errorf("lookback: %w", err)
	}
	if len(embeds) == 0 {
		return req.Reply(ctx, fmt.Sprintf("No recent books found in given search period of %d minutes.", minutes))
	}
	req.Log.Info("recent books found", logx.Int("minutes", minutes), logx.Int("books", len(embeds)))
	return req.Respond(ctx, transport.Response{
		Text:      fmt.Sprintf("Recent books found in given search period of %d minutes.", minutes),
		Embeds:    embeds,
		Ephemeral: true,
	})
}

func (h *Handlers) enableNewBook(ctx context.Context, req *Request, color string) error {
	if h.loops.Running(storage.KindNewBook) {
		req.Log.Warn("new book check task was already running")
		return req.Reply(ctx, "New book check task is already running, ignoring...")
	}
	rows, err := h.store.FindTasks(ctx, storage.TaskFilter{SubscriberID: req.Cmd.CallerID, Kind: storage.KindNewBook})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "Error activating new book task. Please make sure to setup the task prior to activation by using command **/setup-tasks**")
	}
	if err := h.loops.Enable(ctx, storage.KindNewBook); err != nil {
		return err
	}
	h.applyColor(color)
	return req.Reply(ctx, fmt.Sprintf("Activating New Book Task! This task will automatically refresh every *%d minutes*!", int(h.loops.Interval().Minutes())))
}

func (h *Handlers) setupTask(ctx context.Context, req *Request) error {
	c := req.Cmd
	kind, ok := parseKind(c.Str("task"))
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("Unknown task **%s**.", c.Str("task")))
	}
	channelID, _ := c.Int("channel")
	channelName := c.Str("channel")
	username := c.Str("user")

	token, err := h.store.UserToken(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, fmt.Sprintf("User **%s** is not stored. Add it with **/add-user** first.", username))
	}
	if err != nil {
		return err
	}

	created, err := h.store.CreateTask(ctx, storage.Task{
		SubscriberID: c.CallerID,
		ChannelID:    channelID,
		Kind:         kind,
		ServerName:   c.Str("server_name"),
		Token:        token,
	})
	if !created {
		req.Log.Warn("task setup failed", logx.String("kind", string(kind)), logx.Err(err))
		return req.Reply(ctx, fmt.Sprintf("An error occurred while attempting to setup the task **%s**. Most likely due to the task already being setup. Please visit the logs for more information.", kind))
	}
	if err := h.loops.Enable(ctx, kind); err != nil {
		req.Log.Warn("task loop not started", logx.String("kind", string(kind)), logx.Err(err))
	}
	h.applyColor(c.Str("color"))

	instr := "`/new-book-check action: disable`"
	if kind == storage.KindFinishedBook {
		instr = "`/remove-task task:finished-book-check`"
	}
	return req.Reply(ctx, fmt.Sprintf("Successfully setup task **%s** with channel **%s**. \nInstructions: Task is now active. To disable, use **%s**",
		kind, channelName, instr))
}

func (h *Handlers) removeTask(ctx context.Context, req *Request) error {
	id, err := strconv.ParseInt(strings.TrimSpace(req.Cmd.Str("task")), 10, 64)
	if err != nil || id <= 0 {
		return req.Reply(ctx, "Failed to remove task, please visit logs for additional details.")
	}
	ok, err := h.store.DeleteTask(ctx, storage.TaskKey{ID: id})
	if !ok {
		req.Log.Warn("task not removed", logx.Int64("task_id", id), logx.Err(err))
		return req.Reply(ctx, "Failed to remove task, please visit logs for additional details.")
	}
	return req.Reply(ctx, "Successfully removed task!")
}

func (h *Handlers) activeTasks(ctx context.Context, req *Request) error {
	rows, err := h.store.FindTasks(ctx, storage.TaskFilter{})
	if err != nil {
		return err
	}
	embeds := make([]transport.Embed, 0, len(rows))
	for _, t := range rows {
		channel, cerr := h.dir.ChannelName(ctx, t.ChannelID)
		user, uerr := h.dir.UserDisplayName(ctx, t.SubscriberID)
		if cerr != nil || uerr != nil {
			req.Log.Debug("skipping task with unresolvable target", logx.Int64("task_id", t.ID), logx.Err(errors.Join(cerr, uerr)))
			continue
		}
		embeds = append(embeds, transport.Embed{
			Title:       "Task",
			Description: "All Currently Active Tasks. *Note: this will pull for all channels and users.*",
			Footer:      h.footer,
			Fields: []transport.EmbedField{
				{Name: "Name", Value: string(t.Kind), Inline: true},
				{Name: "Discord Related Information", Value: fmt.Sprintf("Channel: **%s**\nDiscord User: **%s**", channel, user), Inline: true},
			},
		})
	}
	if len(embeds) == 0 {
		return req.Reply(ctx, "No currently active tasks found.")
	}
	return req.Respond(ctx, transport.Response{Embeds: embeds, Ephemeral: true})
}

func (h *Handlers) addUser(ctx context.Context, req *Request) error {
	u := storage.User{Username: strings.TrimSpace(req.Cmd.Str("username")), Token: strings.TrimSpace(req.Cmd.Str("token"))}
	if u.Username == "" || u.Token == "" {
		return req.Reply(ctx, "Username and token are required.")
	}
	if err := h.store.PutUser(ctx, u); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Successfully stored user **%s**.", u.Username))
}

func (h *Handlers) completeKind(context.Context, *Request) ([]transport.Choice, error) {
	kinds := storage.Kinds()
	out := make([]transport.Choice, len(kinds))
	for i, k := range kinds {
		out[i] = transport.Choice{Name: string(k), Value: strconv.Itoa(i + 1)}
	}
	return out, nil
}

func (h *Handlers) completeColor(context.Context, *Request) ([]transport.Choice, error) {
	out := make([]transport.Choice, len(batch.Palette))
	for i, c := range batch.Palette {
		out[i] = transport.Choice{Name: c.Name, Value: strconv.Itoa(i)}
	}
	return out, nil
}

func (h *Handlers) completeOwnTasks(ctx context.Context, req *Request) ([]transport.Choice, error) {
	rows, err := h.store.FindTasks(ctx, storage.TaskFilter{SubscriberID: req.Cmd.CallerID})
	if err != nil {
		return nil, err
	}
	out := make([]transport.Choice, 0, len(rows))
	for _, t := range rows {
		name, err := h.dir.ChannelName(ctx, t.ChannelID)
		if err != nil {
			continue
		}
		out = append(out, transport.Choice{Name: fmt.Sprintf("%s | %s", t.Kind, name), Value: strconv.FormatInt(t.ID, 10)})
	}
	return out, nil
}

func (h *Handlers) completeUser(ctx context.Context, req *Request) ([]transport.Choice, error) {
	users, err := h.store.SearchUsers(ctx, req.Cmd.Str(req.Cmd.Focused), maxChoices)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]transport.Choice, 0, len(users))
	for _, u := range users {
		if seen[u.Username] {
			continue
		}
		seen[u.Username] = true
		out = append(out, transport.Choice{Name: u.Username, Value: u.Username})
	}
	return out, nil
}

func (h *Handlers) applyColor(raw string) {
	if raw == "" {
		return
	}
	if idx, ok := batch.ParseColor(raw); ok {
		h.loops.SetColor(idx)
	}
}

// callerLabel is the caller's own new-book registration label, if any.
func (h *Handlers) callerLabel(ctx context.Context, callerID int64) string {
	rows, err := h.store.FindTasks(ctx, storage.TaskFilter{SubscriberID: callerID, Kind: storage.KindNewBook})
	if err != nil || len(rows) == 0 {
		return ""
	}
	return rows[0].ServerName
}

// parseKind accepts the autocomplete values "1"/"2" and the kind names.
func parseKind(s string) (storage.Kind, bool) {
	kinds := storage.Kinds()
	if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		if i >= 1 && i <= len(kinds) {
			return kinds[i-1], true
		}
		return "", false
	}
	k := storage.Kind(strings.TrimSpace(s))
	return k, k.Valid()
}

var _ Loops = (*subscription.Manager)(nil)
