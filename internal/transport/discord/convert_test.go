package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kit "shelfbot/internal/transport"
)

func TestToEmbeds(t *testing.T) {
	t.Parallel()
	out := toEmbeds([]kit.Embed{{
		Title:    "Dune",
		URL:      "https://abs.example/item/1",
		Color:    0xE67E22,
		ImageURL: "https://abs.example/cover/1",
		Footer:   "Shelf | Home",
		Fields:   []kit.EmbedField{{Name: "Author", Value: "Frank Herbert", Inline: true}},
	}, {Title: "bare"}})

	require.Len(t, out, 2)
	assert.Equal(t, "https://abs.example/cover/1", out[0].Image.URL)
	assert.Equal(t, "Shelf | Home", out[0].Footer.Text)
	assert.True(t, out[0].Fields[0].Inline)
	assert.Nil(t, out[1].Image)
	assert.Nil(t, out[1].Footer)
	assert.Nil(t, toEmbeds(nil))
}

func TestToApplicationCommands(t *testing.T) {
	t.Parallel()
	cmds := toApplicationCommands([]kit.CommandSpec{{
		Name:      "setup-tasks",
		GuildOnly: true,
		Options: []kit.OptionSpec{
			{Name: "channel", Type: kit.OptionChannel, Required: true},
			{Name: "action", Type: kit.OptionString, Choices: []kit.Choice{{Name: "enable", Value: "enable"}}},
			{Name: "minutes", Type: kit.OptionInteger},
		},
	}})
	require.Len(t, cmds, 1)
	c := cmds[0]
	require.NotNil(t, c.DMPermission)
	assert.False(t, *c.DMPermission)
	assert.Equal(t, discordgo.ApplicationCommandOptionChannel, c.Options[0].Type)
	assert.Equal(t, []discordgo.ChannelType{discordgo.ChannelTypeGuildText}, c.Options[0].ChannelTypes)
	assert.Len(t, c.Options[1].Choices, 1)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, c.Options[2].Type)
}

func TestToCommand(t *testing.T) {
	t.Parallel()
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommandAutocomplete,
		ChannelID: "100",
		GuildID:   "7",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "42"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "setup-tasks",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "task", Type: discordgo.ApplicationCommandOptionString, Value: "1"},
				{Name: "minutes", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(30)},
				{Name: "enable_task", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
				{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "555"},
				{Name: "user", Type: discordgo.ApplicationCommandOptionString, Value: "al", Focused: true},
			},
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Channels: map[string]*discordgo.Channel{"555": {ID: "555", Name: "books"}},
			},
		},
	}
	c := toCommand(i)
	assert.Equal(t, "setup-tasks", c.Name)
	assert.Equal(t, int64(42), c.CallerID)
	assert.Equal(t, int64(100), c.ChannelID)
	assert.Equal(t, "user", c.Focused)
	assert.Equal(t, "1", c.Str("task"))
	n, ok := c.Int("minutes")
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)
	assert.True(t, c.Options["enable_task"].Bool)
	assert.Equal(t, kit.Option{Int: 555, String: "books", IsSet: true}, c.Options["channel"])
}

func TestToCommandDirectMessage(t *testing.T) {
	t.Parallel()
	i := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "9"},
		Data: discordgo.ApplicationCommandInteractionData{Name: "active-tasks"},
	}
	assert.Equal(t, int64(9), toCommand(i).CallerID)
}

func TestMapErr(t *testing.T) {
	t.Parallel()
	assert.NoError(t, mapErr(nil))

	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	assert.ErrorIs(t, mapErr(notFound), kit.ErrNotFound)

	unknownUser := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownUser},
	}
	assert.ErrorIs(t, mapErr(unknownUser), kit.ErrNotFound)

	other := errors.New("gateway hiccup")
	assert.Same(t, other, mapErr(other))
}

func TestChunkEmbeds(t *testing.T) {
	t.Parallel()
	in := make([]*discordgo.MessageEmbed, 23)
	chunks := chunkEmbeds(in)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[2], 3)
	assert.Len(t, chunkEmbeds(nil), 1)
}
