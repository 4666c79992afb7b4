package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts workflow-completion notices to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier builds a notifier for the given bot token and channel id.
func NewSlackNotifier(botToken, channelID string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channelID,
		logger:  logger,
	}
}

func (n *SlackNotifier) Platform() string { return "slack" }

// Notify posts the message with the workflow status in the header line.
func (n *SlackNotifier) Notify(ctx context.Context, msg *Message) error {
	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body)
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		n.logger.Error("slack post failed",
			zap.String("channel", n.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
