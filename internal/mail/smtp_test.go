package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/config"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSMTP accepts one session per connection and answers RCPT with rcptReply
type fakeSMTP struct {
	listener  net.Listener
	rcptReply string
	received  chan string
}

func startFakeSMTP(t *testing.T, rcptReply string) *fakeSMTP {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeSMTP{listener: l, rcptReply: rcptReply, received: make(chan string, 4)}
	go f.serve()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeSMTP) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.session(conn)
	}
}

func (f *fakeSMTP) session(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP fake")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch cmd {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250 localhost")
		case "MAIL":
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			_ = tp.PrintfLine("%s", f.rcptReply)
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.received <- string(data)
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (f *fakeSMTP) sender(t *testing.T) *SMTPSender {
	host, port, err := net.SplitHostPort(f.listener.Addr().String())
	require.NoError(t, err)
	return NewSMTPSender(config.SMTPConfig{
		Host:        host,
		Port:        port,
		From:        "openmusic@example.com",
		DialTimeout: time.Second,
	}, discardLogger())
}

func TestSendDeliversAttachment(t *testing.T) {
	srv := startFakeSMTP(t, "250 OK")
	sender := srv.sender(t)

	id, err := sender.Send(context.Background(), "x@example.com", `{"playlist":{"id":"p1"}}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">"))

	var raw string
	select {
	case raw = <-srv.received:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server received nothing")
	}

	msg, err := netmail.ReadMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", msg.Header.Get("To"))
	assert.Equal(t, id, msg.Header.Get("Message-ID"))

	_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	mr := multipart.NewReader(msg.Body, params["boundary"])

	_, err = mr.NextPart()
	require.NoError(t, err)
	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "playlist.json", att.FileName())

	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.NewReplacer("\r", "", "\n", "").Replace(string(encoded)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"playlist":{"id":"p1"}}`, string(decoded))
}

func TestSendRejectedRecipientIsPermanent(t *testing.T) {
	srv := startFakeSMTP(t, "550 mailbox unavailable")

	_, err := srv.sender(t).Send(context.Background(), "nobody@example.com", "{}")
	assert.ErrorIs(t, err, ErrPermanent)
	assert.False(t, models.IsRetryable(err))
}

func TestSendGreylistedIsTransient(t *testing.T) {
	srv := startFakeSMTP(t, "451 try again later")

	_, err := srv.sender(t).Send(context.Background(), "x@example.com", "{}")
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestSendConnectionRefusedIsTransient(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()

	sender := NewSMTPSender(config.SMTPConfig{Host: host, Port: port, From: "a@example.com", DialTimeout: time.Second}, discardLogger())
	_, err = sender.Send(context.Background(), "x@example.com", "{}")

	assert.ErrorIs(t, err, models.ErrTransient)
	assert.NotErrorIs(t, err, ErrPermanent)
}

func TestSendInvalidAddressDoesNotDial(t *testing.T) {
	sender := NewSMTPSender(config.SMTPConfig{Host: "203.0.113.1", Port: "25"}, discardLogger())

	_, err := sender.Send(context.Background(), "not-an-address", "{}")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&textproto.Error{Code: 554, Msg: "rejected"}), ErrPermanent)
	assert.ErrorIs(t, classify(&textproto.Error{Code: 535, Msg: "bad credentials"}), models.ErrTransient)
	assert.ErrorIs(t, classify(&textproto.Error{Code: 421, Msg: "shutting down"}), models.ErrTransient)
	assert.ErrorIs(t, classify(errors.New("broken pipe")), models.ErrTransient)
	assert.ErrorIs(t, classify(io.EOF), io.EOF)
}

func TestWriteBase64LinesWraps(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, writeBase64Lines(&sb, []byte(strings.Repeat("a", 200))))

	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
}
