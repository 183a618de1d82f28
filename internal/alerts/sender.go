// Package alerts implements the pluggable alert-delivery backends (SMTP,
// HTTP POST) and the off-critical-path fanout that invokes them.
package alerts

import "errors"

// ErrRateLimited is returned by a Sender when the per-fingerprint rate
// limit rejects a delivery. It is always logged and swallowed by the
// Fanout, never re-raised even when fail_loudly is set.
var ErrRateLimited = errors.New("alerts: rate limited")

// Sender is implemented by every alert backend (SMTP, HTTP POST, ...).
// A zero-value message means "use the sender's own template naming
// tunnelName and the supervisor identity".
type Sender interface {
	SendAlert(tunnelName, message string) error
}

// fingerprint canonicalizes the arguments used to key the per-sender rate
// limiter. Per spec.md §9, the fingerprint is the tuple of call arguments
// canonicalized to a stable string.
func fingerprint(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\x00"
		}
		out += p
	}
	return out
}
