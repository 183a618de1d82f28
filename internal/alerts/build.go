package alerts

import "github.com/websoft9/tunnelsupervisor/internal/config"

// BuildSenders constructs one Sender per alert backend present in the
// top-level config. A backend is "present" when its config struct isn't
// the zero value for its identifying field (smtp_hostname / http_url) —
// both are optional per spec.md §6.
func BuildSenders(tunnelManagerID string, smtp config.SMTPConfig, httpCfg config.HTTPConfig) ([]Sender, error) {
	var senders []Sender

	if smtp.Host != "" {
		s, err := NewSMTPSender(tunnelManagerID, smtp.Host, smtp.Port, smtp.Login, smtp.Password, smtp.To, smtp.From, smtp.Security)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	if httpCfg.URL != "" {
		senders = append(senders, NewHTTPSender(tunnelManagerID, httpCfg.URL, httpCfg.User, httpCfg.Password))
	}

	return senders, nil
}
