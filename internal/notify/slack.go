package notify

import (
	"context"
	"fmt"

	"github.com/fleeteye/internal/models"
	"github.com/slack-go/slack"
)

// SlackNotifier posts alert notifications to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, intent Intent) error {
	attachment := slack.Attachment{
		Color: severityColor(intent.Severity, intent.Kind),
		Title: intentTitle(intent),
		Text:  intent.Message,
		Fields: []slack.AttachmentField{
			{Title: "Server", Value: intent.ServerName, Short: true},
			{Title: "Condition", Value: string(intent.Condition), Short: true},
			{Title: "Severity", Value: string(intent.Severity), Short: true},
			{Title: "Value", Value: fmt.Sprintf("%.1f%%", intent.Value), Short: true},
		},
		Footer: "FleetEye",
	}

	_, _, err := s.client.PostMessageContext(
		ctx,
		s.channel,
		slack.MsgOptionAttachments(attachment),
	)
	return err
}

func intentTitle(intent Intent) string {
	switch intent.Kind {
	case KindResolved:
		return fmt.Sprintf("Resolved: %s on %s", intent.Condition, intent.ServerName)
	case KindEscalated:
		return fmt.Sprintf("Escalated to %s: %s on %s", intent.Severity, intent.Condition, intent.ServerName)
	case KindReminder:
		return fmt.Sprintf("Still firing: %s on %s", intent.Condition, intent.ServerName)
	default:
		return fmt.Sprintf("Alert: %s on %s", intent.Condition, intent.ServerName)
	}
}

func severityColor(sev models.Severity, kind Kind) string {
	if kind == KindResolved {
		return "#36a64f"
	}
	switch sev {
	case models.SeverityCritical:
		return "#ff0000"
	case models.SeverityHigh:
		return "#ffcc00"
	default:
		return "#cccccc"
	}
}
