// Package notify delivers stale-mirror notices to a maintenance contact.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// DefaultRecipient receives notices when none is configured.
const DefaultRecipient = "mirrors@archlinux.org"

// Notifier sends a notice. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// Message is a prefilled notice.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Send delivers m through n.
func (m Message) Send(ctx context.Context, n Notifier) error {
	return n.Notify(ctx, m.Recipient, m.Subject, m.Body)
}

// StaleMirror builds the notice for a mirror lagging behind tier-0.
func StaleMirror(recipient, mirrorURL string, drift time.Duration) Message {
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Arch Linux mirror %s is out of date", mirrorURL),
		Body: fmt.Sprintf(`Hi!

Mirror %s is out of date for %s.
Please correct this and notify us.

The mirror has been marked as inactive for now.

//Arch Linux mirror admins`, mirrorURL, drift),
	}
}

// Unreachable builds the notice for a mirror whose freshness endpoints
// failed. statusCode is zero when no HTTP response was received.
func Unreachable(recipient, mirrorURL string, statusCode int) Message {
	problem := "could not be reached"
	if statusCode > 0 {
		problem = fmt.Sprintf("responded with HTTP %d", statusCode)
	}
	return Message{
		Recipient: recipient,
		Subject:   fmt.Sprintf("Arch Linux mirror %s is unreachable", mirrorURL),
		Body: fmt.Sprintf(`Hi!

Mirror %s %s when we checked /lastsync.
Please correct this and notify us.

The mirror has been marked as inactive for now.

//Arch Linux mirror admins`, mirrorURL, problem),
	}
}

// MailtoURL formats a mailto: link with a prefilled subject and body.
func MailtoURL(recipient, subject, body string) string {
	var parts []string
	if subject != "" {
		parts = append(parts, "subject="+escape(subject))
	}
	if body != "" {
		parts = append(parts, "body="+escape(body))
	}
	link := "mailto:" + escape(recipient)
	if len(parts) > 0 {
		link += "?" + strings.Join(parts, "&")
	}
	return link
}

// Mail clients do not decode '+' as a space in mailto links.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// MailtoNotifier hands a mailto: link to the desktop opener so the user's
// mail composer opens with the notice prefilled.
type MailtoNotifier struct {
	opener string
	logger *slog.Logger
	run    func(ctx context.Context, name string, args ...string) error
}

// NewMailtoNotifier creates a notifier that invokes opener (for example
// xdg-open) with the mailto link as its only argument.
func NewMailtoNotifier(opener string, logger *slog.Logger) *MailtoNotifier {
	if opener == "" {
		opener = "xdg-open"
	}
	return &MailtoNotifier{
		opener: opener,
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (n *MailtoNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	link := MailtoURL(recipient, subject, body)
	n.logger.Info("opening mail composer", "recipient", recipient, "subject", subject)
	if err := n.run(ctx, n.opener, link); err != nil {
		return fmt.Errorf("running %s: %w", n.opener, err)
	}
	return nil
}

// LogNotifier writes notices to the log instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	n.Logger.Warn("mirror notice", "recipient", recipient, "subject", subject, "body", body)
	return nil
}
