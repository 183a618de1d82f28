package tunnel

import "errors"

// Sentinel errors distinguishing the error kinds named in spec.md §7.
// The Supervisor never inspects these directly (Worker isolation is a
// process boundary — only exit status crosses it); the Worker wraps its
// connect, bind and host-key failures in them, so its own log lines carry
// the classification.
var (
	// ErrConnectFailed covers every SSH connect-time failure: unreachable
	// host, auth rejection, and unknown host key alike. Per spec.md §9's
	// first open question, these are reported as one uniform class rather
	// than mirroring the original's unreachable exception-handling branch.
	ErrConnectFailed = errors.New("tunnel: ssh connect failed")

	// ErrBindRejected is returned when the rendezvous server refuses the
	// remote port-forward request.
	ErrBindRejected = errors.New("tunnel: remote port-forward request rejected")

	// ErrUnknownHostKey is returned by the host-key callback when no
	// server_key was configured and the presented key is therefore
	// untrusted. There is no trust-on-first-use fallback.
	ErrUnknownHostKey = errors.New("tunnel: unknown host key and no server_key configured")

	errTransportClosed     = errors.New("tunnel: transport reported closed")
	errProbeSessionTimeout = errors.New("tunnel: liveness probe session timed out")
)
