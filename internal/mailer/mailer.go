// Package mailer relays outbound email through an SMTP server.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoRecipients is returned when a message has no recipients.
var ErrNoRecipients = errors.New("message has no recipients")

var addressRegex = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)

// ValidAddress reports whether addr looks like a deliverable address.
func ValidAddress(addr string) bool {
	if strings.ContainsAny(addr, "\r\n<>,; \t") {
		return false
	}
	return addressRegex.MatchString(addr)
}

// Message is an outbound plain-text email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds relay connection settings. Sender doubles as the SMTP
// login user.
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends mail with STARTTLS and PLAIN auth.
type SMTPSender struct {
	cfg    SMTPConfig
	send   SendFunc
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{
		cfg:    cfg,
		send:   smtp.SendMail,
		now:    time.Now,
		logger: logger,
	}
}

// WithSendFunc replaces the transport, mainly for tests.
func (s *SMTPSender) WithSendFunc(fn SendFunc) *SMTPSender {
	s.send = fn
	return s
}

// Send delivers msg. smtp.SendMail upgrades with STARTTLS when the server
// offers it and refuses PLAIN auth over an unencrypted remote connection.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := BuildMessage(s.cfg.Sender, msg, s.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Sender, s.cfg.Password, s.cfg.Host)
	}

	start := time.Now()
	if err := s.send(addr, auth, s.cfg.Sender, msg.To, raw); err != nil {
		s.logger.Error("smtp relay failed", "host", s.cfg.Host, "recipients", len(msg.To), "error", err)
		return fmt.Errorf("relaying message: %w", err)
	}

	s.logger.Info("email sent", "recipients", len(msg.To), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// BuildMessage renders msg as an RFC 5322 message.
func BuildMessage(from string, msg Message, date time.Time) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}
	for _, addr := range append([]string{from}, msg.To...) {
		if !ValidAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", stripNewlines(msg.Subject)))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(normalizeNewlines(msg.Body))
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// LogSender logs messages instead of sending them. Used when no relay host
// is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message envelope.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	s.logger.Info("email relay disabled, dropping message", "recipients", len(msg.To), "subject_length", len(msg.Subject))
	return nil
}
