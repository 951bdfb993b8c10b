package notify

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/casapps/casbackup/src/internal/logging"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m...)
	return nil
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestDisabledMailerIsInert(t *testing.T) {
	cfg := viper.New()
	cfg.Set("email.enabled", false)

	m := NewMailer(cfg, testLogger(t))
	assert.Nil(t, m.dialer)

	// Must not panic or block.
	m.BackupFailed("octo", "widgets", "manual", errors.New("boom"))
}

func TestBackupFailedSendsAlert(t *testing.T) {
	cfg := viper.New()
	cfg.Set("email.enabled", true)
	cfg.Set("email.from.address", "backup@example.com")
	cfg.Set("email.to", []string{"ops@example.com"})
	cfg.Set("email.smtp.host", "mail.example.com")
	cfg.Set("email.smtp.port", 587)

	m := NewMailer(cfg, testLogger(t))
	capture := &captureSender{}
	m.dialer = capture

	m.BackupFailed("octo", "widgets", "force-push", errors.New("fetch refused"))

	require.Len(t, capture.sent, 1)
	msg := capture.sent[0]
	assert.Equal(t, []string{"[casbackup] backup failed: octo/widgets"}, msg.GetHeader("Subject"))
	assert.Equal(t, []string{"ops@example.com"}, msg.GetHeader("To"))
}

func TestSendFailureIsSwallowed(t *testing.T) {
	cfg := viper.New()
	cfg.Set("email.enabled", true)
	cfg.Set("email.from.address", "backup@example.com")
	cfg.Set("email.to", []string{"ops@example.com"})

	m := NewMailer(cfg, testLogger(t))
	m.dialer = &captureSender{err: errors.New("smtp down")}

	// Only logs; never panics or propagates.
	m.BackupFailed("octo", "widgets", "manual", errors.New("boom"))
}
