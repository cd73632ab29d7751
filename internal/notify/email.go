package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// EmailNotifier sends alert notifications over SMTP.
type EmailNotifier struct {
	dialer    *gomail.Dialer
	from      string
	receivers []string
}

func NewEmailNotifier(host string, port int, from, password string, receivers []string) *EmailNotifier {
	return &EmailNotifier{
		dialer:    gomail.NewDialer(host, port, from, password),
		from:      from,
		receivers: receivers,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(_ context.Context, intent Intent) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.receivers...)
	m.SetHeader("Subject", fmt.Sprintf("[FleetEye] %s", intentTitle(intent)))

	body := fmt.Sprintf(`Server: %s (%s)
Condition: %s
Severity: %s
Kind: %s
Value: %.1f%% (threshold %.1f%%)
Triggered: %s
%s
`, intent.ServerName, intent.ServerID,
		intent.Condition, intent.Severity, intent.Kind,
		intent.Value, intent.Threshold,
		intent.TriggeredAt.Format(time.RFC3339),
		intent.Message)

	if intent.ResolvedAt != nil {
		body += fmt.Sprintf("Resolved: %s\n", intent.ResolvedAt.Format(time.RFC3339))
	}

	m.SetBody("text/plain", body)
	return e.dialer.DialAndSend(m)
}
