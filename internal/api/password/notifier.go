package password

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// Notifier delivers reset-flow mail. The service treats delivery of the
// reset link as part of the operation; the confirmation mail is best effort.
type Notifier interface {
	SendResetLink(ctx context.Context, u *types.User, resetURL string) error
	SendResetConfirmation(ctx context.Context, u *types.User) error
}

var resetLinkTmpl = template.Must(template.New("resetLink").Parse(`<html>
<body>
<p>Dear {{.Name}},</p>
<p>You have requested to have your password reset for your account.</p>
<p>Please visit this url to reset your password:</p>
<p><a href="{{.URL}}">{{.URL}}</a></p>
<strong>If you didn't make this request, you can ignore this email.</strong>
</body>
</html>`))

var resetConfirmationTmpl = template.Must(template.New("resetConfirmation").Parse(`<html>
<body>
<p>Dear {{.Name}},</p>
<p>This is a confirmation that the password for your account has just been changed.</p>
</body>
</html>`))

var _ Notifier = (*SMTPNotifier)(nil)

// SMTPNotifier sends reset-flow mail over plain SMTP.
type SMTPNotifier struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

func NewSMTPNotifier(cfg config.SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, logger: logger}
}

func (n *SMTPNotifier) SendResetLink(ctx context.Context, u *types.User, resetURL string) error {
	body, err := renderTemplate(resetLinkTmpl, map[string]string{
		"Name": displayName(u),
		"URL":  resetURL,
	})
	if err != nil {
		return err
	}
	return n.send(ctx, u, "Password Reset", body)
}

func (n *SMTPNotifier) SendResetConfirmation(ctx context.Context, u *types.User) error {
	body, err := renderTemplate(resetConfirmationTmpl, map[string]string{
		"Name": displayName(u),
	})
	if err != nil {
		return err
	}
	return n.send(ctx, u, "Your password has been changed", body)
}

func (n *SMTPNotifier) send(ctx context.Context, u *types.User, subject, body string) error {
	if u.Email == nil || *u.Email == "" {
		return fmt.Errorf("user %s has no email address", u.Username)
	}
	to := *u.Email

	var msg strings.Builder
	msg.WriteString("From: " + n.cfg.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := n.cfg.Host + ":" + n.cfg.Port
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		n.logger.ErrorContext(ctx, "Failed to send mail",
			slog.String("subject", subject), slog.Any("error", err))
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render mail template: %w", err)
	}
	return buf.String(), nil
}

func displayName(u *types.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

var _ Notifier = (*LogNotifier)(nil)

// LogNotifier logs mail instead of sending it. Used in development when no
// SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendResetLink(ctx context.Context, u *types.User, resetURL string) error {
	n.logger.InfoContext(ctx, "Password reset link (mail disabled)",
		slog.String("username", u.Username), slog.String("url", resetURL))
	return nil
}

func (n *LogNotifier) SendResetConfirmation(ctx context.Context, u *types.User) error {
	n.logger.InfoContext(ctx, "Password changed confirmation (mail disabled)",
		slog.String("username", u.Username))
	return nil
}
