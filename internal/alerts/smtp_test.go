package alerts

import "testing"

func TestNewSMTPSender_RejectsUnknownSecurity(t *testing.T) {
	_, err := NewSMTPSender("fleet-01", "smtp.example.com", 587, "u", "p", "to@example.com", "from@example.com", "starttls")
	if err == nil {
		t.Fatal("expected error for unknown security value")
	}
}

func TestNewSMTPSender_RejectsInvalidAddresses(t *testing.T) {
	if _, err := NewSMTPSender("fleet-01", "h", 25, "u", "p", "not-an-email", "from@example.com", "none"); err == nil {
		t.Fatal("expected error for invalid to address")
	}
	if _, err := NewSMTPSender("fleet-01", "h", 25, "u", "p", "to@example.com", "not-an-email", "none"); err == nil {
		t.Fatal("expected error for invalid from address")
	}
}

func TestNewSMTPSender_DefaultsFromToLogin(t *testing.T) {
	s, err := NewSMTPSender("fleet-01", "h", 25, "login@example.com", "p", "to@example.com", "", "none")
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if s.from != "login@example.com" {
		t.Errorf("from = %q, want login address", s.from)
	}
}

func TestNewSMTPSender_DefaultsPort(t *testing.T) {
	s, err := NewSMTPSender("fleet-01", "h", 0, "login@example.com", "p", "to@example.com", "", "none")
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if s.addr != "h:25" {
		t.Errorf("addr = %q, want h:25", s.addr)
	}
}

func TestSMTPSender_RateLimited(t *testing.T) {
	s, err := NewSMTPSender("fleet-01", "127.0.0.1", 1, "login@example.com", "p", "to@example.com", "", "none")
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	// First call consumes the token for this (tunnel, message) fingerprint
	// and will fail to connect (nothing listening on port 1) — that's fine,
	// we only care that the second call is rejected before any dial.
	_ = s.SendAlert("tunnel-1", "down")
	if err := s.SendAlert("tunnel-1", "down"); err != ErrRateLimited {
		t.Errorf("second SendAlert = %v, want ErrRateLimited", err)
	}
}
