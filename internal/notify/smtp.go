package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
)

// SMTPConfig holds SMTP configuration. Recipients without an "@" are
// addressed as <id>@RecipientDomain.
type SMTPConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	From            string
	FromName        string
	RecipientDomain string
}

// SMTPSender delivers notifications as plain text mail.
type SMTPSender struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPSender{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if host, port and sender address are set.
func (s *SMTPSender) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *SMTPSender) SendNotification(ctx context.Context, req Request) (Response, error) {
	if !s.IsConfigured() {
		return Response{}, ErrNotConfigured
	}
	to, err := s.recipients(req.To)
	if err != nil {
		return Response{}, err
	}
	msg, err := s.message(to, req)
	if err != nil {
		return Response{}, err
	}

	// net/smtp has no context support; the send runs in its own goroutine so
	// the caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() { done <- s.send(s.server, s.auth, s.config.From, to, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return Response{}, fmt.Errorf("send mail: %w", err)
		}
		return Response{Status: "SENT"}, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("send mail: %w", ctx.Err())
	}
}

func (s *SMTPSender) recipients(users []string) ([]string, error) {
	out := make([]string, 0, len(users))
	for _, user := range users {
		switch {
		case strings.Contains(user, "@"):
			out = append(out, user)
		case s.config.RecipientDomain != "":
			out = append(out, user+"@"+s.config.RecipientDomain)
		default:
			return nil, fmt.Errorf("no mail address for user %s", user)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("notification has no recipients")
	}
	return out, nil
}

type messageData struct {
	To      string
	From    string
	Subject string
	Body    string
}

var messageTemplate = template.Must(template.New("notification").Parse(
	"To: {{.To}}\r\n" +
		"From: {{.From}}\r\n" +
		"Subject: {{.Subject}}\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"{{.Body}}\r\n"))

func (s *SMTPSender) message(to []string, req Request) ([]byte, error) {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	var buf bytes.Buffer
	err := messageTemplate.Execute(&buf, messageData{
		To:      strings.Join(to, ", "),
		From:    from,
		Subject: stripHeaderBreaks(req.Subject),
		Body:    req.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("render notification: %w", err)
	}
	return buf.Bytes(), nil
}

func stripHeaderBreaks(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
