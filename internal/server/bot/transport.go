// Package bot turns chat events into service calls. Events of one chat are
// handled in arrival order, different chats in parallel.
package bot

import (
	"context"

	"github.com/Adriatogi/common-voice-offline/internal/server/services"
)

// Event is one inbound chat message.
type Event struct {
	ChatID    string
	MessageID string
	Text      string
	// VoiceRef is the platform reference of an attached voice message.
	VoiceRef string
	// ReplyToText is the text of the message this one replies to, if any.
	ReplyToText string
}

func (e Event) IsVoice() bool { return e.VoiceRef != "" }

// Transport is the messaging platform seen by the bot.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, chatID, text string) error
	services.ArtifactFetcher
}
