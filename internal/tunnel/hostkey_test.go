package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func genHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer.PublicKey()
}

func writeKnownHosts(t *testing.T, hostname string, key ssh.PublicKey) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "server_key")
	line := knownhosts.Line([]string{hostname}, key)
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

func TestBuildHostKeyCallback_NoServerKeyAlwaysRejects(t *testing.T) {
	cb, err := buildHostKeyCallback("")
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}
	key := genHostKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}

	err = cb("example.test:22", addr, key)
	if err == nil {
		t.Fatal("expected rejection with no server_key configured")
	}
	if !errors.Is(err, ErrUnknownHostKey) {
		t.Errorf("got %v, want wrapped ErrUnknownHostKey", err)
	}
}

func TestBuildHostKeyCallback_MatchingKeyAccepted(t *testing.T) {
	key := genHostKey(t)
	path := writeKnownHosts(t, "example.test:22", key)

	cb, err := buildHostKeyCallback(path)
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}
	if err := cb("example.test:22", addr, key); err != nil {
		t.Errorf("expected matching key to be accepted, got %v", err)
	}
}

func TestBuildHostKeyCallback_MismatchedKeyRejected(t *testing.T) {
	trusted := genHostKey(t)
	presented := genHostKey(t)
	path := writeKnownHosts(t, "example.test:22", trusted)

	cb, err := buildHostKeyCallback(path)
	if err != nil {
		t.Fatalf("buildHostKeyCallback: %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}
	err = cb("example.test:22", addr, presented)
	if err == nil {
		t.Fatal("expected mismatched host key to be rejected")
	}
	if !errors.Is(err, ErrUnknownHostKey) {
		t.Errorf("got %v, want wrapped ErrUnknownHostKey", err)
	}
}

func TestBuildHostKeyCallback_UnreadableServerKeyFile(t *testing.T) {
	_, err := buildHostKeyCallback(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error loading a nonexistent server_key file")
	}
}
