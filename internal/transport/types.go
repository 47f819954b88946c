package transport

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a delivery target (channel or user) no longer resolves.
var ErrNotFound = errors.New("transport: target not found")

// MaxEmbedsPerMessage is the platform limit on embeds attached to one message.
const MaxEmbedsPerMessage = 10

type UpdateKind string

const (
	UpdateCommand      UpdateKind = "command"
	UpdateAutocomplete UpdateKind = "autocomplete"
)

// Update is a single inbound interaction. Reply and Suggest are bound by the adapter
// to the originating interaction; only the one matching Kind is non-nil.
type Update struct {
	Kind    UpdateKind
	Command *Command

	Reply   func(ctx context.Context, r Response) error
	Suggest func(ctx context.Context, choices []Choice) error
}

// Command is a parsed slash command invocation.
type Command struct {
	Name      string
	CallerID  int64
	ChannelID int64
	GuildID   int64
	Options   map[string]Option
	// Focused is the option being typed for autocomplete updates.
	Focused string
}

// Option is a raw command option. Channel options carry the channel id in Int
// and its display name in String.
type Option struct {
	String string
	Int    int64
	Bool   bool
	IsSet  bool
}

func (c *Command) Str(name string) string {
	if c == nil {
		return ""
	}
	return c.Options[name].String
}

func (c *Command) Int(name string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	o, ok := c.Options[name]
	return o.Int, ok && o.IsSet
}

type OptionType int

const (
	OptionString OptionType = iota
	OptionInteger
	OptionBool
	OptionChannel
)

// OptionSpec declares one slash command option.
type OptionSpec struct {
	Name         string
	Description  string
	Type         OptionType
	Required     bool
	Autocomplete bool
	Choices      []Choice
}

// CommandSpec declares a slash command for registration with the platform.
type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
	// GuildOnly hides the command in direct messages.
	GuildOnly bool
}

type Response struct {
	Text      string
	Embeds    []Embed
	Ephemeral bool
}

type Choice struct {
	Name  string
	Value string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a platform-neutral rich message card.
type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	ImageURL    string
	Footer      string
	Fields      []EmbedField
}

type MessageRef struct {
	ChannelID int64
	MessageID int64
}

// Notification is a direct, best-effort message to a single user.
type Notification struct {
	Channel string // dedup namespace, e.g. "wishlist" or "owner"
	UserID  int64
	Text    string
	Embeds  []Embed
}

// Adapter is the chat-platform boundary.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	RegisterCommands(ctx context.Context, specs []CommandSpec) error

	SendMessage(ctx context.Context, channelID int64, content string, embeds []Embed) (MessageRef, error)
	EditEmbeds(ctx context.Context, ref MessageRef, embeds []Embed) error
	SendDirect(ctx context.Context, userID int64, content string, embeds []Embed) error

	ChannelName(ctx context.Context, channelID int64) (string, error)
	UserDisplayName(ctx context.Context, userID int64) (string, error)
}
