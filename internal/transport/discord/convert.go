package discord

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"
	kit "shelfbot/internal/transport"
)

func idStr(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func toEmbeds(in []kit.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

var optionTypes = map[kit.OptionType]discordgo.ApplicationCommandOptionType{
	kit.OptionString:  discordgo.ApplicationCommandOptionString,
	kit.OptionInteger: discordgo.ApplicationCommandOptionInteger,
	kit.OptionBool:    discordgo.ApplicationCommandOptionBoolean,
	kit.OptionChannel: discordgo.ApplicationCommandOptionChannel,
}

func toApplicationCommands(specs []kit.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		cmd := &discordgo.ApplicationCommand{Name: s.Name, Description: s.Description}
		if s.GuildOnly {
			dm := false
			cmd.DMPermission = &dm
		}
		for _, o := range s.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:         optionTypes[o.Type],
				Name:         o.Name,
				Description:  o.Description,
				Required:     o.Required,
				Autocomplete: o.Autocomplete,
			}
			if o.Type == kit.OptionChannel {
				opt.ChannelTypes = []discordgo.ChannelType{discordgo.ChannelTypeGuildText}
			}
			for _, c := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

func toChoices(in []kit.Choice) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(in))
	for _, c := range in {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
	}
	return out
}

// toCommand flattens interaction data. Channel options resolve their name
// from the interaction's resolved data.
func toCommand(i *discordgo.Interaction) *kit.Command {
	data := i.ApplicationCommandData()
	c := &kit.Command{
		Name:      data.Name,
		ChannelID: parseID(i.ChannelID),
		GuildID:   parseID(i.GuildID),
		Options:   make(map[string]kit.Option, len(data.Options)),
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		c.CallerID = parseID(i.Member.User.ID)
	case i.User != nil:
		c.CallerID = parseID(i.User.ID)
	}

	for _, o := range data.Options {
		if o.Focused {
			c.Focused = o.Name
		}
		opt := kit.Option{IsSet: true}
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			opt.String = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			opt.Int = o.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			opt.Bool = o.BoolValue()
		case discordgo.ApplicationCommandOptionChannel:
			id, _ := o.Value.(string)
			opt.Int = parseID(id)
			if data.Resolved != nil {
				if ch, ok := data.Resolved.Channels[id]; ok && ch != nil {
					opt.String = ch.Name
				}
			}
		}
		c.Options[o.Name] = opt
	}
	return c
}

// mapErr turns unknown channel/user REST failures into kit.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch {
		case rerr.Response.StatusCode == http.StatusNotFound,
			rerr.Message != nil && (rerr.Message.Code == discordgo.ErrCodeUnknownChannel || rerr.Message.Code == discordgo.ErrCodeUnknownUser):
			return errors.Join(kit.ErrNotFound, err)
		}
	}
	return err
}

func chunkEmbeds(in []*discordgo.MessageEmbed) [][]*discordgo.MessageEmbed {
	var out [][]*discordgo.MessageEmbed
	for len(in) > kit.MaxEmbedsPerMessage {
		out = append(out, in[:kit.MaxEmbedsPerMessage])
		in = in[kit.MaxEmbedsPerMessage:]
	}
	return append(out, in)
}
