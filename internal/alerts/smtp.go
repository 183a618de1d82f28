package alerts

import (
	"crypto/tls"
	"fmt"
	"net/mail"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"
)

// SMTPSender delivers alerts over SMTP using github.com/domodwyer/mailyak/v3
// for message construction and delivery. It validates addresses and the
// security mode once, at construction, never at send time.
type SMTPSender struct {
	TunnelManagerID string

	addr     string
	auth     smtp.Auth
	from     string
	to       string
	security string // none | tls | ssl

	limiter *fingerprintLimiter
}

// NewSMTPSender validates cfg and returns a ready-to-use SMTPSender.
// Security must be one of "none", "tls", "ssl" (empty means "none"); any
// other value is rejected here, before any network I/O, matching spec.md
// §8's boundary behavior for unknown security values.
func NewSMTPSender(tunnelManagerID, host string, port int, login, password, to, from, security string) (*SMTPSender, error) {
	if security == "" {
		security = "none"
	}
	switch security {
	case "none", "tls", "ssl":
	default:
		return nil, fmt.Errorf("alerts: smtp: security must be none, tls or ssl, got %q", security)
	}
	if from == "" {
		from = login
	}
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("alerts: smtp: invalid from address %q: %w", from, err)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("alerts: smtp: invalid to address %q: %w", to, err)
	}
	if port == 0 {
		port = 25
	}

	var auth smtp.Auth
	if login != "" {
		auth = smtp.PlainAuth("", login, password, host)
	}

	return &SMTPSender{
		TunnelManagerID: tunnelManagerID,
		addr:            fmt.Sprintf("%s:%d", host, port),
		auth:            auth,
		from:            fromAddr.Address,
		to:              toAddr.Address,
		security:        security,
		limiter:         newFingerprintLimiter(),
	}, nil
}

// SendAlert delivers one notification for tunnelName. It is rate-limited
// per (tunnelName, message) fingerprint at one delivery per 600s.
func (s *SMTPSender) SendAlert(tunnelName, message string) error {
	if message == "" {
		message = fmt.Sprintf("This email is to let you know that %s is down! Manager id: %s", tunnelName, s.TunnelManagerID)
	}
	key := fingerprint(tunnelName, message)
	if !s.limiter.allow(key) {
		return ErrRateLimited
	}

	var my *mailyak.MailYak
	if s.security == "ssl" {
		var err error
		my, err = mailyak.NewWithTLS(s.addr, s.auth, &tls.Config{ServerName: hostOnly(s.addr)})
		if err != nil {
			return fmt.Errorf("alerts: smtp: dial %s: %w", s.addr, err)
		}
	} else {
		// "none" and "tls" both go through mailyak's plain dialer, which
		// opportunistically negotiates STARTTLS via net/smtp — the server
		// advertising STARTTLS is what distinguishes the two in practice.
		my = mailyak.New(s.addr, s.auth)
	}

	my.To(s.to)
	my.From(s.from)
	my.Subject(fmt.Sprintf("Connector %s notification", tunnelName))
	my.Plain().Set(message)

	if err := my.Send(); err != nil {
		return fmt.Errorf("alerts: smtp: send: %w", err)
	}
	return nil
}

func hostOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
