package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"unisocial-auth/internal/config"
)

const (
	otpSubject      = "Verify your University Social account"
	otpBodyTemplate = "Your OTP verification code is: %s\r\n\r\n" +
		"This code expires in 10 minutes. If you did not request it, you can ignore this email.\r\n"
)

// Sender delivers OTP mail over plain SMTP. Kept behind an interface so the
// worker tests can swap in a recorder.
type Sender interface {
	SendOTP(to, code string) error
}

type smtpSender struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPSender(cfg *config.Config) Sender {
	var auth smtp.Auth
	if cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
	}

	return &smtpSender{
		addr: cfg.SMTPAddress(),
		from: cfg.SMTP.From,
		auth: auth,
	}
}

func (s *smtpSender) SendOTP(to, code string) error {
	msg := buildMessage(s.from, to, otpSubject, fmt.Sprintf(otpBodyTemplate, code))

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send OTP mail: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
