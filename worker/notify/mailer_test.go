package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	to, subject, body string
	err               error
	calls             int
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func TestMailer_Notify_Sends(t *testing.T) {
	sender := &fakeSender{}
	m := NewMailer(sender, zaptest.NewLogger(t))

	sent, detail := m.Notify(context.Background(), "user@example.com", "https://viewer.example.com/abc")

	assert.True(t, sent)
	assert.Equal(t, "Email sent successfully.", detail)
	assert.Equal(t, "user@example.com", sender.to)
	assert.Equal(t, subject, sender.subject)
	assert.Contains(t, sender.body, `href="https://viewer.example.com/abc"`)
}

func TestMailer_Notify_SenderError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	m := NewMailer(sender, zaptest.NewLogger(t))

	sent, detail := m.Notify(context.Background(), "user@example.com", "https://viewer.example.com/abc")

	assert.False(t, sent)
	assert.Equal(t, "connection refused", detail)
	assert.Equal(t, 1, sender.calls)
}

func TestMailer_Notify_NotConfigured(t *testing.T) {
	m := NewMailer(nil, zaptest.NewLogger(t))

	sent, detail := m.Notify(context.Background(), "user@example.com", "https://viewer.example.com/abc")

	assert.False(t, sent)
	assert.Equal(t, "email delivery is not configured", detail)
}

func TestMailer_Notify_EscapesURL(t *testing.T) {
	sender := &fakeSender{}
	m := NewMailer(sender, zaptest.NewLogger(t))

	m.Notify(context.Background(), "user@example.com", `https://viewer.example.com/"><script>`)

	assert.NotContains(t, sender.body, "<script>")
}
