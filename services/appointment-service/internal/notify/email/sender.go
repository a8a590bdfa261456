package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Receipt struct {
	MessageID string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	host string
	from string
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@servicebay.local"
	}
	d := &net.Dialer{Timeout: 5 * time.Second}
	return &SMTPSender{
		addr: net.JoinHostPort(host, port),
		host: host,
		from: from,
		dial: d.DialContext,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return Receipt{}, err
	}
	// smtp.Client has no context support; the deadline bounds the whole exchange.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return Receipt{}, err
	}
	defer c.Close()

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(s.from))
	if err := c.Mail(s.from); err != nil {
		return Receipt{}, err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return Receipt{}, err
	}
	w, err := c.Data()
	if err != nil {
		return Receipt{}, err
	}
	if _, err := w.Write([]byte(buildMessage(id, s.from, msg))); err != nil {
		return Receipt{}, err
	}
	if err := w.Close(); err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: id}, c.Quit()
}

func buildMessage(id, from string, msg Message) string {
	return fmt.Sprintf(
		"Message-ID: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		id,
		headerValue(from),
		headerValue(msg.To),
		headerValue(msg.Subject),
		msg.HTML,
	)
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds CR and LF to spaces so a value can never start a new
// header line or end the header block early.
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}

// NoopSender accepts every message. Used when SMTP is not configured.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ Message) (Receipt, error) {
	return Receipt{MessageID: "noop-" + uuid.NewString()}, nil
}
