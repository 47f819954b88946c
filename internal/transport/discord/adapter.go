// Package discord adapts a discordgo session to the transport.Adapter boundary.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	rtsup "shelfbot/internal/runtime/supervisor"
	kit "shelfbot/internal/transport"
	logx "shelfbot/pkg/logx"
)

type Config struct {
	Token string
	// GuildID scopes command registration; 0 registers global commands.
	GuildID int64
}

type Adapter struct {
	cfg Config
	log logx.Logger

	s   *discordgo.Session
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
	removeHandler  func()
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "discord.adapter")), s: s}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Start opens the gateway and forwards interactions to out.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	a.removeHandler = a.s.AddHandler(a.onInteraction)
	if err := a.s.Open(); err != nil {
		a.removeHandler()
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(out)
				return
			case <-ticker.C:
				a.reportDropped(out)
			}
		}
	})
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) reportDropped(out chan<- kit.Update) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming interactions dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	sup := a.sup
	a.sup = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	if a.removeHandler != nil {
		a.removeHandler()
	}
	a.runMu.Unlock()

	err := a.s.Close()
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	a.log.Info("gateway closed")
	return err
}

// RegisterCommands overwrites the application's slash commands.
func (a *Adapter) RegisterCommands(ctx context.Context, specs []kit.CommandSpec) error {
	if a.s.State == nil || a.s.State.User == nil {
		return errors.New("discord session not ready")
	}
	guild := ""
	if a.cfg.GuildID != 0 {
		guild = idStr(a.cfg.GuildID)
	}
	cmds, err := a.s.ApplicationCommandBulkOverwrite(a.s.State.User.ID, guild, toApplicationCommands(specs), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	a.log.Info("slash commands registered", logx.Int("count", len(cmds)), logx.String("guild", guild))
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID int64, content string, embeds []kit.Embed) (kit.MessageRef, error) {
	msg, err := a.s.ChannelMessageSendComplex(idStr(channelID), &discordgo.MessageSend{
		Content: content,
		Embeds:  toEmbeds(embeds),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, mapErr(err)
	}
	return kit.MessageRef{ChannelID: channelID, MessageID: parseID(msg.ID)}, nil
}

func (a *Adapter) EditEmbeds(ctx context.Context, ref kit.MessageRef, embeds []kit.Embed) error {
	edit := discordgo.NewMessageEdit(idStr(ref.ChannelID), idStr(ref.MessageID)).SetEmbeds(toEmbeds(embeds))
	_, err := a.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapErr(err)
}

// SendDirect opens (or reuses) the DM channel with userID and sends one message.
func (a *Adapter) SendDirect(ctx context.Context, userID int64, content string, embeds []kit.Embed) error {
	ch, err := a.s.UserChannelCreate(idStr(userID), discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	_, err = a.s.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content: content,
		Embeds:  toEmbeds(embeds),
	}, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) ChannelName(ctx context.Context, channelID int64) (string, error) {
	if a.s.State != nil {
		if ch, err := a.s.State.Channel(idStr(channelID)); err == nil {
			return ch.Name, nil
		}
	}
	ch, err := a.s.Channel(idStr(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return ch.Name, nil
}

func (a *Adapter) UserDisplayName(ctx context.Context, userID int64) (string, error) {
	u, err := a.s.User(idStr(userID), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	if u.GlobalName != "" {
		return u.GlobalName, nil
	}
	return u.Username, nil
}

func (a *Adapter) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	i := ic.Interaction
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		// Acknowledge within Discord's 3s window; replies arrive as followups.
		err := s.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		})
		if err != nil {
			a.log.Warn("interaction ack failed", logx.Err(err))
			return
		}
		a.sendUpdate(kit.Update{
			Kind:    kit.UpdateCommand,
			Command: toCommand(i),
			Reply:   func(ctx context.Context, r kit.Response) error { return a.followup(ctx, i, r) },
		})
	case discordgo.InteractionApplicationCommandAutocomplete:
		a.sendUpdate(kit.Update{
			Kind:    kit.UpdateAutocomplete,
			Command: toCommand(i),
			Suggest: func(ctx context.Context, choices []kit.Choice) error {
				return s.InteractionRespond(i, &discordgo.InteractionResponse{
					Type: discordgo.InteractionApplicationCommandAutocompleteResult,
					Data: &discordgo.InteractionResponseData{Choices: toChoices(choices)},
				}, discordgo.WithContext(ctx))
			},
		})
	}
}

// followup posts r, splitting embeds over several messages when needed.
func (a *Adapter) followup(ctx context.Context, i *discordgo.Interaction, r kit.Response) error {
	var flags discordgo.MessageFlags
	if r.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	content := r.Text
	for _, chunk := range chunkEmbeds(toEmbeds(r.Embeds)) {
		if content == "" && len(chunk) == 0 {
			continue
		}
		_, err := a.s.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
			Content: content,
			Embeds:  chunk,
			Flags:   flags,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return mapErr(err)
		}
		content = ""
	}
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

var _ kit.Adapter = (*Adapter)(nil)
