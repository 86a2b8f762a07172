package remote

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"refused", errors.New("dial tcp 10.0.0.1:22: connect: connection refused"), KindConnectivity},
		{"no route", errors.New("dial tcp 10.0.0.1:22: connect: no route to host"), KindConnectivity},
		{"dial timeout", errors.New("dial tcp 10.0.0.1:22: i/o timeout"), KindTimeout},
		{"deadline", errors.New("dial tcp 10.0.0.1:22: context deadline exceeded"), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyDialError("10.0.0.1:22", tt.err)
			if classified.Kind != tt.kind {
				t.Errorf("got kind %q, want %q", classified.Kind, tt.kind)
			}
			if !errors.Is(classified, tt.err) {
				t.Error("classified error must wrap the original")
			}
		})
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"bad key", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [publickey]"), KindAuth},
		{"no methods", errors.New("ssh: handshake failed: ssh: no supported methods remain"), KindAuth},
		{"slow handshake", errors.New("ssh: handshake failed: read tcp: i/o timeout"), KindTimeout},
		{"reset", errors.New("ssh: handshake failed: read tcp: connection reset by peer"), KindConnectivity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyHandshakeError("host:22", tt.err)
			if classified.Kind != tt.kind {
				t.Errorf("got kind %q, want %q", classified.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyRunError(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	if kind := classifyRunError(expired, errors.New("wait: remote command exited")).Kind; kind != KindTimeout {
		t.Errorf("expired context must classify as timeout, got %q", kind)
	}
	if kind := classifyRunError(context.Background(), errors.New("ssh: unexpected packet")).Kind; kind != KindUnknown {
		t.Errorf("unrecognized failure must classify as unknown, got %q", kind)
	}
}

func TestResolveSettings(t *testing.T) {
	s := resolveSettings(Endpoint{Address: "worker-1.example.com:2222", User: "ops", IdentityFile: "/keys/worker"})
	if s.hostname != "worker-1.example.com" {
		t.Errorf("hostname = %q", s.hostname)
	}
	if s.port != "2222" {
		t.Errorf("port = %q", s.port)
	}
	if s.user != "ops" {
		t.Errorf("explicit user must win, got %q", s.user)
	}
	if s.identityFile != "/keys/worker" {
		t.Errorf("identityFile = %q", s.identityFile)
	}
	if s.address() != "worker-1.example.com:2222" {
		t.Errorf("address = %q", s.address())
	}

	// Bare hostname defaults to port 22.
	s = resolveSettings(Endpoint{Address: "worker-2", User: "ops"})
	if s.port != "22" {
		t.Errorf("default port = %q", s.port)
	}
}

func TestErrorFormatting(t *testing.T) {
	inner := errors.New("connection refused")
	err := &Error{Kind: KindConnectivity, Message: "cannot reach host", Err: inner}
	if got := err.Error(); got != "connectivity: cannot reach host: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("Unwrap must expose the inner error")
	}

	bare := &Error{Kind: KindAuth, Message: "no ssh auth methods available"}
	if got := bare.Error(); got != "auth: no ssh auth methods available" {
		t.Errorf("Error() = %q", got)
	}
}
