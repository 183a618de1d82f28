package tunnel

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildHostKeyCallback returns the host-key policy for a connect attempt.
//
// Host-key policy is reject-on-unknown, mandatory, with no
// trust-on-first-use (spec.md §3, §9: "the security-relevant decision...
// must not regress"). When serverKeyPath names a known-hosts-style file,
// the presented key must match an entry in it. When serverKeyPath is
// empty, every key is unknown by definition and the connection is always
// rejected — the descriptor must name a server_key to connect at all.
func buildHostKeyCallback(serverKeyPath string) (ssh.HostKeyCallback, error) {
	if serverKeyPath == "" {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return fmt.Errorf("%w: %s presented %s %s", ErrUnknownHostKey, hostname, key.Type(), ssh.FingerprintSHA256(key))
		}, nil
	}

	cb, err := knownhosts.New(serverKeyPath)
	if err != nil {
		return nil, fmt.Errorf("tunnel: load server_key %s: %w", serverKeyPath, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownHostKey, err)
		}
		return nil
	}, nil
}
