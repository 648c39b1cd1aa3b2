// Package email sends account and board-sharing notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Message is one notification with a plain text body and an optional HTML
// alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{config: config, auth: auth, send: smtp.SendMail}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers msg as multipart/alternative when it carries HTML, or as a
// single text/plain part otherwise.
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if msg.To == "" {
		return errors.New("email: empty recipient")
	}
	addr := s.config.Host + ":" + s.config.Port
	return s.send(addr, s.auth, s.config.From, []string{msg.To}, s.compose(msg))
}

func (s *Service) compose(msg Message) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(crlf(msg.Text))
		return b.Bytes()
	}

	boundary := "kanban-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	for _, part := range []struct{ kind, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	} {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n\r\n", part.kind)
		b.WriteString(crlf(part.body))
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

// SendVerificationEmail mails the link that confirms a new account.
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	msg, err := render(to, "verify", map[string]string{
		"UserName": userName,
		"URL":      verificationURL,
	})
	if err != nil {
		return err
	}
	return s.Send(msg)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	msg, err := render(to, "reset", map[string]string{
		"UserName": userName,
		"URL":      resetURL,
	})
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// SendInvitationEmail tells a user they were given role on a board.
func (s *Service) SendInvitationEmail(to, inviterName, boardTitle, role, boardURL string) error {
	msg, err := render(to, "invite", map[string]string{
		"InviterName": inviterName,
		"BoardTitle":  boardTitle,
		"Role":        role,
		"URL":         boardURL,
	})
	if err != nil {
		return err
	}
	return s.Send(msg)
}
