package alerting

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smtpSink is a minimal SMTP server that accepts every command and records
// the DATA payloads it receives.
type smtpSink struct {
	ln       net.Listener
	mu       sync.Mutex
	messages []string
	rcpts    []string
}

func newSMTPSink(t *testing.T) *smtpSink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpSink{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *smtpSink) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpSink) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpSink) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.TrimSpace(line[len("RCPT TO:"):]))
			s.mu.Unlock()
			reply("250 ok")
		case cmd == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				data.WriteString(l)
			}
			s.mu.Lock()
			s.messages = append(s.messages, data.String())
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func (s *smtpSink) received() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), append([]string(nil), s.rcpts...)
}

func TestEmailNotifierSend(t *testing.T) {
	sink := newSMTPSink(t)
	n := NewEmailNotifier(SMTPOptions{
		Host:    "127.0.0.1",
		Port:    sink.port(),
		From:    "bot@x.io",
		Timeout: 2 * time.Second,
	}, testLogger())

	err := n.Send(context.Background(), "a@b.com", "[pricewatch] ETHEREUM reached 2000", "Target: 2000\nCurrent: 2001\n")
	require.NoError(t, err)

	messages, rcpts := sink.received()
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"<a@b.com>"}, rcpts)
	assert.Contains(t, messages[0], "Subject: [pricewatch] ETHEREUM reached 2000")
	assert.Contains(t, messages[0], "Current: 2001")
}

func TestEmailNotifierConnectionDropped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	n := NewEmailNotifier(SMTPOptions{
		Host:    "127.0.0.1",
		Port:    ln.Addr().(*net.TCPAddr).Port,
		From:    "bot@x.io",
		Timeout: time.Second,
	}, testLogger())

	err = n.Send(context.Background(), "a@b.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp send to a@b.com")
}

func TestNewMessageHeaders(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := newMessage("bot@x.io", "a@b.com", "[pricewatch] ETHEREUM reached 2000", "line1\nline2\n", at)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "From: <bot@x.io>")
	assert.Contains(t, raw, "To: <a@b.com>")
	assert.Contains(t, raw, "Subject: [pricewatch] ETHEREUM reached 2000")
	assert.Contains(t, raw, "Message-ID: <")
	assert.Contains(t, raw, "line1")
}

func TestNewMessageRejectsBadAddress(t *testing.T) {
	_, err := newMessage("bot@x.io", "not an address", "s", "b", time.Now())
	assert.Error(t, err)
}

func TestEmailNotifierRequiresHost(t *testing.T) {
	n := NewEmailNotifier(SMTPOptions{}, testLogger())
	assert.Error(t, n.Send(context.Background(), "a@b.com", "s", "b"))

	n = NewEmailNotifier(SMTPOptions{Host: "127.0.0.1"}, testLogger())
	assert.Error(t, n.Send(context.Background(), "a@b.com", "s", "b"))
}
