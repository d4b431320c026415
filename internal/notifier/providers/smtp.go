package providers

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

// Send sends a multipart plain/HTML email via SMTP
func (s *SMTPSender) Send(to, subject, htmlBody, plainBody string) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	if err := s.send(addr, auth, s.from, []string{to}, buildMessage(s.from, to, subject, htmlBody, plainBody)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func buildMessage(from, to, subject, htmlBody, plainBody string) []byte {
	boundary := "xhsc-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	// Subjects carry CJK titles.
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	msg.WriteString("\r\n")

	part := func(contentType, body string) {
		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		fmt.Fprintf(&msg, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
		msg.WriteString("\r\n")
		msg.WriteString(body)
		msg.WriteString("\r\n")
	}
	part("text/plain", plainBody)
	part("text/html", htmlBody)

	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return []byte(msg.String())
}
