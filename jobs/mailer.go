package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through a plain SMTP relay with optional PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("jobs: smtp host and sender are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, m.format(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) format(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return buf.Bytes()
}

// LogMailer writes messages to the logger instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not delivered (no smtp host)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}

var verificationBody = template.Must(template.New("verify").Parse(`Hello {{.Name}},

Thanks for registering your {{.Kind}} account with KitBridge.
Confirm your email address by opening the link below within 24 hours:

{{.Link}}

Once confirmed you can sign in at {{.LoginPath}}.
`))

// RenderVerificationEmail builds the verification message for a payload.
func RenderVerificationEmail(p VerificationEmailPayload) (Message, error) {
	if p.To == "" || p.Link == "" {
		return Message{}, errors.New("jobs: verification email requires recipient and link")
	}
	var body bytes.Buffer
	if err := verificationBody.Execute(&body, p); err != nil {
		return Message{}, err
	}
	return Message{
		To:      p.To,
		Subject: "Confirm your KitBridge email address",
		Body:    body.String(),
	}, nil
}
