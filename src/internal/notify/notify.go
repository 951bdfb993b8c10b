// Package notify sends failure alerts over SMTP. Notifications are best
// effort; a mail problem never fails the backup that triggered it.
package notify

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"

	"github.com/casapps/casbackup/src/internal/logging"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer emails backup failure alerts. It implements backup.Notifier.
type Mailer struct {
	enabled bool
	from    string
	to      []string
	dialer  sender
	log     *logging.Logger
}

// NewMailer builds a Mailer from the email.* configuration block. When
// email.enabled is false the mailer is inert and BackupFailed is a no-op.
func NewMailer(cfg *viper.Viper, log *logging.Logger) *Mailer {
	m := &Mailer{
		enabled: cfg.GetBool("email.enabled"),
		from:    formatFrom(cfg.GetString("email.from.address"), cfg.GetString("email.from.name")),
		to:      cfg.GetStringSlice("email.to"),
		log:     log,
	}
	if !m.enabled {
		return m
	}

	host := cfg.GetString("email.smtp.host")
	dialer := gomail.NewDialer(
		host,
		cfg.GetInt("email.smtp.port"),
		cfg.GetString("email.smtp.username"),
		cfg.GetString("email.smtp.password"),
	)
	if cfg.GetBool("email.smtp.use_tls") {
		dialer.TLSConfig = &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: cfg.GetBool("email.smtp.skip_verify"),
		}
	}
	m.dialer = dialer
	return m
}

// BackupFailed sends one alert per failed transaction. Errors are logged
// and swallowed.
func (m *Mailer) BackupFailed(account, repo, event string, cause error) {
	if !m.enabled || m.dialer == nil || len(m.to) == 0 {
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[casbackup] backup failed: %s/%s", account, repo))
	msg.SetHeader("X-Mailer", "casbackup")
	msg.SetBody("text/plain", fmt.Sprintf(
		"Backup of %s/%s failed at %s.\n\nEvent: %s\nError: %v\n\nThe previous backup remains intact.\n",
		account, repo, time.Now().UTC().Format(time.RFC3339), event, cause,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.log.Warn("failed to send failure notification for %s/%s: %v", account, repo, err)
	}
}

func formatFrom(address, name string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}
