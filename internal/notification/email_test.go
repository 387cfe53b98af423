package notification

import (
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/protocol"
	"github.com/smukkama/flight-analytics/pkg/config"
)

type capturedMail struct {
	addr string
	to   []string
	msg  string
}

func newTestNotifier(cfg config.SMTPConfig, sendErr error) (*EmailNotifier, *[]capturedMail) {
	var sent []capturedMail
	n := NewEmailNotifier(&cfg, zap.NewNop())
	n.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, to: to, msg: string(msg)})
		return sendErr
	}
	return n, &sent
}

var configured = config.SMTPConfig{
	Host:     "smtp.example.com",
	Port:     587,
	Username: "pipeline",
	Password: "secret",
	From:     "pipeline@example.com",
	To:       "oncall@example.com",
}

func failedEvent() *protocol.StageEvent {
	started := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	return &protocol.StageEvent{
		RunID:      "run-42",
		Stage:      protocol.StageNormalize,
		Status:     protocol.StatusFailed,
		Window:     "2024-05-01",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Error:      "raw store unavailable",
	}
}

func TestNotifyStageEvent_SendsForFailures(t *testing.T) {
	n, sent := newTestNotifier(configured, nil)

	ok, err := n.NotifyStageEvent(failedEvent())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, []string{"oncall@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Flight pipeline stage FAILED - normalize (run-42)")
	assert.Contains(t, mail.msg, "Window: 2024-05-01")
	assert.Contains(t, mail.msg, "raw store unavailable")
}

func TestNotifyStageEvent_IgnoresSuccess(t *testing.T) {
	n, sent := newTestNotifier(configured, nil)
	for _, status := range []string{protocol.StatusSucceeded, protocol.StatusNoOp} {
		event := failedEvent()
		event.Status = status
		ok, err := n.NotifyStageEvent(event)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Empty(t, *sent)
}

func TestNotifyStageEvent_UnconfiguredOnlyLogs(t *testing.T) {
	n, sent := newTestNotifier(config.SMTPConfig{Host: "smtp.example.com"}, nil)

	ok, err := n.NotifyStageEvent(failedEvent())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, *sent)
}

func TestNotifyStageEvent_SendFailure(t *testing.T) {
	n, _ := newTestNotifier(configured, errors.New("connection refused"))

	_, err := n.NotifyStageEvent(failedEvent())
	assert.Error(t, err)
}
