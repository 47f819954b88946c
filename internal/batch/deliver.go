package batch

import (
	"context"
	"errors"
	"fmt"

	"shelfbot/internal/transport"
)

const (
	NewBooksMessage      = "New books have been added to your library!"
	FinishedBooksMessage = "These books have been recently finished in your library!"
)

type MessageSender interface {
	SendMessage(ctx context.Context, channelID int64, content string, embeds []transport.Embed) (transport.MessageRef, error)
	EditEmbeds(ctx context.Context, ref transport.MessageRef, embeds []transport.Embed) error
}

// Deliver posts embeds to a channel and returns how many messages it sent.
//
// Below the embed limit it sends content alone and then edits all embeds onto
// that message. At or above the limit it sends content as an announcement and
// then one message per embed. A missing channel aborts; a single failed embed
// message does not stop the rest.
func Deliver(ctx context.Context, s MessageSender, channelID int64, content string, embeds []transport.Embed) (int, error) {
	if len(embeds) == 0 {
		return 0, nil
	}
	ref, err := s.SendMessage(ctx, channelID, content, nil)
	if err != nil {
		return 0, fmt.Errorf("send to channel %d: %w", channelID, err)
	}
	if len(embeds) < transport.MaxEmbedsPerMessage {
		if err := s.EditEmbeds(ctx, ref, embeds); err != nil {
			return 1, fmt.Errorf("attach embeds to channel %d: %w", channelID, err)
		}
		return 1, nil
	}

	sent := 1
	var errs []error
	for _, e := range embeds {
		if _, err := s.SendMessage(ctx, channelID, "", []transport.Embed{e}); err != nil {
			if errors.Is(err, transport.ErrNotFound) {
				return sent, fmt.Errorf("send to channel %d: %w", channelID, err)
			}
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
