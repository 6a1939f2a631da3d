package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/quotedprintable"
	"net"
	netmail "net/mail"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/darshan-rambhia/beacon/internal/model"
)

func captureMailer(m *SMTPMailer, err error) *[]*mail.Msg {
	var sent []*mail.Msg
	m.deliver = func(_ context.Context, msg *mail.Msg) error {
		sent = append(sent, msg)
		return err
	}
	return &sent
}

func testAlertContext() model.AlertContext {
	return model.AlertContext{
		Template:     model.EventAlertNew,
		ClientName:   "Acme",
		Title:        "Disk Full",
		TitleCaps:    "DISK FULL",
		NiceHostname: "db01",
		NiceGroup:    "Databases",
		Message:      "/var is 98% full",
		URL:          "https://b.example/#Server?hostname=db01",
	}
}

// parse renders msg and returns its decoded subject and body.
func parse(t *testing.T, msg *mail.Msg) (*netmail.Message, string, string) {
	t.Helper()
	var raw bytes.Buffer
	_, err := msg.WriteTo(&raw)
	require.NoError(t, err)

	parsed, err := netmail.ReadMessage(&raw)
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)

	var body io.Reader = parsed.Body
	if parsed.Header.Get("Content-Transfer-Encoding") == "quoted-printable" {
		body = quotedprintable.NewReader(body)
	}
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	return parsed, subject, string(b)
}

func TestSMTPMailerSend(t *testing.T) {
	m := NewSMTP("mail.example.com", 0, "", "", "beacon@example.com")
	sent := captureMailer(m, nil)

	err := m.Send(context.Background(), "ops@example.com, oncall@example.com,", testAlertContext())
	require.NoError(t, err)
	assert.Equal(t, 25, m.port)

	require.Len(t, *sent, 1)
	msg := (*sent)[0]
	assert.Equal(t, []string{"<ops@example.com>", "<oncall@example.com>"}, msg.GetToString())

	parsed, subject, body := parse(t, msg)
	assert.Equal(t, "<beacon@example.com>", parsed.Header.Get("From"))
	assert.Equal(t, "Acme Alert: db01: Disk Full", subject)
	assert.Contains(t, parsed.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "ALERT: DISK FULL")
	assert.Contains(t, body, "/var is 98% full")
}

func TestSMTPMailerEncodesSubject(t *testing.T) {
	m := NewSMTP("mail.example.com", 25, "", "", "beacon@example.com")
	sent := captureMailer(m, nil)

	c := testAlertContext()
	c.Title = "Température élevée"
	require.NoError(t, m.Send(context.Background(), "ops@example.com", c))
	require.Len(t, *sent, 1)

	parsed, subject, _ := parse(t, (*sent)[0])
	assert.Contains(t, parsed.Header.Get("Subject"), "=?UTF-8?")
	assert.Equal(t, "Acme Alert: db01: Température élevée", subject)
}

func TestSMTPMailerBadFrom(t *testing.T) {
	m := NewSMTP("mail.example.com", 25, "", "", "not an address")
	sent := captureMailer(m, nil)

	err := m.Send(context.Background(), "ops@example.com", testAlertContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp: from")
	assert.Empty(t, *sent)
}

func TestSMTPMailerNoRecipients(t *testing.T) {
	m := NewSMTP("mail.example.com", 25, "", "", "beacon@example.com")
	sent := captureMailer(m, nil)

	require.NoError(t, m.Send(context.Background(), " , ", testAlertContext()))
	assert.Empty(t, *sent)
}

func TestSMTPMailerError(t *testing.T) {
	m := NewSMTP("mail.example.com", 25, "", "", "beacon@example.com")
	captureMailer(m, errors.New("connection refused"))

	err := m.Send(context.Background(), "ops@example.com", testAlertContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp: send to ops@example.com")
}

func TestSMTPMailerCancelled(t *testing.T) {
	m := NewSMTP("mail.example.com", 25, "", "", "beacon@example.com")
	sent := captureMailer(m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Send(ctx, "ops@example.com", testAlertContext()))
	assert.Empty(t, *sent)
}

func TestSMTPMailerStalledRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	port := ln.Addr().(*net.TCPAddr).Port
	m := NewSMTP("127.0.0.1", port, "", "", "beacon@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = m.Send(ctx, "ops@example.com", testAlertContext())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
