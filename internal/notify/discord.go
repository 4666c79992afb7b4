package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts workflow-completion notices to a Discord channel.
type DiscordNotifier struct {
	session *discordgo.Session
	channel string
	logger  *zap.Logger
}

// NewDiscordNotifier creates the notifier and opens the bot session.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	// Outbound only: no gateway intents are needed beyond the default, but
	// the websocket must be open to resolve channel state.
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord open: %w", err)
	}
	logger.Info("discord notifier connected",
		zap.String("user", session.State.User.Username))
	return &DiscordNotifier{session: session, channel: channelID, logger: logger}, nil
}

func (n *DiscordNotifier) Platform() string { return "discord" }

// Notify sends the rendered message to the configured channel.
func (n *DiscordNotifier) Notify(_ context.Context, msg *Message) error {
	content := fmt.Sprintf("**%s**\n%s", msg.Title, msg.Body)
	if _, err := n.session.ChannelMessageSend(n.channel, content); err != nil {
		n.logger.Error("discord send failed",
			zap.String("channel", n.channel), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
