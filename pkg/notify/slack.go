package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackNotifier posts the report into a Slack channel. The recipient on the
// message overrides the configured default channel when set.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier for the given bot token and default
// channel.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

// Send implements Notifier.
func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	channel := n.channel
	if msg.Recipient != "" {
		channel = msg.Recipient
	}

	text := fmt.Sprintf("*%s*\n\n%s", msg.Subject, msg.Body)
	_, _, err := n.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post to slack channel %s: %w", channel, err)
	}
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
