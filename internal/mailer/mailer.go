package mailer

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/config"
	"github.com/rodriguezfdg-dev/Proyecto-FlowDesk/internal/models"
)

// Mailer sends HTML notification mail through the SMTP server configured in
// the helpdesk database. There is no retry: a failed send is the caller's
// problem to log and move past.
type Mailer struct {
	settings *models.SMTPSettings
	fromName string
	timeout  time.Duration
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New builds a Mailer. settings may be nil when the SmtpSettings row is
// absent; every Send then fails with a descriptive error.
func New(settings *models.SMTPSettings, cfg config.MailConfig) *Mailer {
	return &Mailer{
		settings: settings,
		fromName: cfg.FromName,
		timeout:  cfg.Timeout,
		sendMail: smtp.SendMail,
	}
}

// Configured reports whether an SMTP settings row was found.
func (m *Mailer) Configured() bool {
	return m.settings != nil
}

// Send delivers one HTML message to a single recipient.
func (m *Mailer) Send(to, subject, htmlBody string) error {
	if m.settings == nil {
		return fmt.Errorf("smtp settings not found in database, cannot send email")
	}

	msg := m.buildMessage(to, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", m.settings.Host, m.settings.Port)

	var auth smtp.Auth
	if m.settings.Username != "" {
		auth = smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
	}

	if m.settings.UseSSL {
		return m.sendImplicitTLS(addr, auth, to, msg)
	}

	// Plain connection; net/smtp upgrades via STARTTLS when the server
	// advertises it, matching the use_tls setting's intent.
	if err := m.sendMail(addr, auth, m.settings.Username, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func (m *Mailer) buildMessage(to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", m.fromName, m.settings.Username)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// sendImplicitTLS handles SMTPS (TLS from the first byte, typically port 465).
func (m *Mailer) sendImplicitTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.settings.Host})
	if err != nil {
		return fmt.Errorf("dial smtps %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, m.settings.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.settings.Username); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}
