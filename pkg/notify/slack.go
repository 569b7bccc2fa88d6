package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// SlackProvider posts a topology's timeout warning to a single channel, a
// thin wrapper around *slack.Client gated on whether a bot token was
// configured at all.
type SlackProvider struct {
	client  *slack.Client
	channel string
}

// NewSlackProvider builds a provider posting to channel using botToken. An
// empty botToken yields a disabled provider (IsEnabled returns false)
// rather than a client that will fail on every call.
func NewSlackProvider(botToken, channel string) *SlackProvider {
	var client *slack.Client
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &SlackProvider{client: client, channel: channel}
}

func (p *SlackProvider) Name() string { return "slack" }

func (p *SlackProvider) IsEnabled() bool { return p.client != nil && p.channel != "" }

func (p *SlackProvider) Send(ctx context.Context, msg Message) error {
	if !p.IsEnabled() {
		return nil
	}
	text := fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)
	if len(msg.Recipients) > 0 {
		text += fmt.Sprintf("\ncc: %s", strings.Join(msg.Recipients, ", "))
	}
	_, _, err := p.client.PostMessageContext(ctx, p.channel, slack.MsgOptionText(text, false))
	return err
}
