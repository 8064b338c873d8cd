// Package alert posts run outcomes to the operator channel.
package alert

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Notifier posts a titled message for operators.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Slack posts through an incoming webhook. An empty WebhookURL disables it.
type Slack struct {
	WebhookURL string
	Channel    string
}

func (s Slack) Notify(ctx context.Context, title, body string) error {
	if s.WebhookURL == "" {
		return nil
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "```\n"+body+"\n```", false, false), nil, nil),
	}
	msg := &slack.WebhookMessage{
		Channel: s.Channel,
		Text:    title,
		Blocks:  &slack.Blocks{BlockSet: blocks},
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
