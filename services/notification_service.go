package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"minidrive/models"
	"minidrive/utils"

	"github.com/rs/zerolog"
)

// Notifier tells a user something was shared with them. Delivery failures
// never undo the grant.
type Notifier interface {
	NotifyShare(ctx context.Context, n models.ShareNotification) error
}

// ShareEmail renders the subject and plain-text body for a share notice.
func ShareEmail(n models.ShareNotification) (subject, body string) {
	kind := "file"
	if n.NodeKind == models.KindFolder {
		kind = "folder"
	}
	subject = fmt.Sprintf("File Shared: %s", n.NodeName)
	body = fmt.Sprintf("Hello,\n\n%s has shared a %s '%s' with you.\nPermission: %s\n",
		n.SharerName, kind, n.NodeName, n.Level)
	return subject, body
}

// LogNotifier writes notices to the log instead of sending mail.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: utils.ComponentLogger("notifier")}
}

func (n *LogNotifier) NotifyShare(_ context.Context, msg models.ShareNotification) error {
	subject, _ := ShareEmail(msg)
	n.logger.Info().
		Str("to", msg.RecipientEmail).
		Str("subject", subject).
		Str("level", string(msg.Level)).
		Msg("Mock email sent")
	return nil
}

const mailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunNotifier sends notices through the Mailgun messages API.
type MailgunNotifier struct {
	apiKey    string
	domain    string
	fromEmail string
	baseURL   string
	client    *http.Client
}

func NewMailgunNotifier(apiKey, domain, fromEmail string) *MailgunNotifier {
	return &MailgunNotifier{
		apiKey:    apiKey,
		domain:    domain,
		fromEmail: fromEmail,
		baseURL:   mailgunBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MailgunNotifier) NotifyShare(ctx context.Context, msg models.ShareNotification) error {
	subject, text := ShareEmail(msg)
	return m.sendEmail(ctx, msg.RecipientEmail, subject, text)
}

func (m *MailgunNotifier) sendEmail(ctx context.Context, to, subject, text string) error {
	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)

	form := url.Values{}
	form.Set("from", m.fromEmail)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create mailgun request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send mailgun request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("mailgun responded with status: %s", resp.Status)
	}
	return nil
}
