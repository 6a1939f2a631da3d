package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/templates"
)

const smtpTimeout = 15 * time.Second

// SMTPMailer renders alert emails and sends them through an SMTP relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	deliver  func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTP creates a mailer. Authentication is only used when a username is
// set. A zero port defaults to 25.
func NewSMTP(host string, port int, username, password, from string) *SMTPMailer {
	if port == 0 {
		port = 25
	}
	m := &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
	m.deliver = m.dialAndSend
	return m
}

// Send renders c and mails it to every address in to. The whole exchange
// with the relay is bounded by ctx.
func (m *SMTPMailer) Send(ctx context.Context, to string, c model.AlertContext) error {
	var rcpts []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			rcpts = append(rcpts, addr)
		}
	}
	if len(rcpts) == 0 {
		return nil
	}

	msg, err := m.message(ctx, rcpts, c)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	if err := m.deliver(ctx, msg); err != nil {
		return fmt.Errorf("smtp: send to %s: %w", to, err)
	}
	return nil
}

func (m *SMTPMailer) message(ctx context.Context, rcpts []string, c model.AlertContext) (*mail.Msg, error) {
	var body bytes.Buffer
	if err := templates.AlertEmail(c).Render(ctx, &body); err != nil {
		return nil, fmt.Errorf("smtp: render: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("smtp: from %q: %w", m.from, err)
	}
	if err := msg.To(rcpts...); err != nil {
		return nil, fmt.Errorf("smtp: recipients: %w", err)
	}
	msg.Subject(templates.AlertSubject(c))
	msg.SetBodyString(mail.TypeTextHTML, body.String())
	return msg, nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(closeOnDone(ctx)),
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}
	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// closeOnDone dials normally but closes the connection once ctx is done, so a
// relay that stops responding cannot hold a send past its deadline.
func closeOnDone(ctx context.Context) mail.DialContextFunc {
	return func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		context.AfterFunc(ctx, func() { _ = conn.Close() })
		return conn, nil
	}
}
