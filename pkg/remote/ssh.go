package remote

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
)

// SSHExecutor executes commands over SSH. Connections are dialed per call;
// the fleet is small and rounds are infrequent, so connection reuse is not
// worth the liveness bookkeeping.
type SSHExecutor struct {
	logger *logger.Logger
	// DialTimeout bounds the TCP dial; the overall run is bounded by the
	// caller's context.
	DialTimeout time.Duration
}

// NewSSHExecutor creates an SSH executor.
func NewSSHExecutor(log *logger.Logger) *SSHExecutor {
	return &SSHExecutor{
		logger:      log,
		DialTimeout: 5 * time.Second,
	}
}

// Execute runs command on the endpoint, honoring the context deadline. When
// the deadline fires mid-run the session is abandoned in a detached
// goroutine: the ssh protocol has no reliable remote kill.
func (e *SSHExecutor) Execute(ctx context.Context, endpoint Endpoint, command string) (Result, error) {
	start := time.Now()

	settings := resolveSettings(endpoint)
	clientConfig, err := buildClientConfig(settings)
	if err != nil {
		return Result{Elapsed: time.Since(start)}, &Error{
			Kind:    KindAuth,
			Message: "no usable ssh credentials for " + endpoint.Address,
			Err:     err,
		}
	}

	dialer := net.Dialer{Timeout: e.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", settings.address())
	if err != nil {
		return Result{Elapsed: time.Since(start)}, classifyDialError(settings.address(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		// Covers the handshake and the command run below; cleared is not
		// needed since the connection is per-call.
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, settings.address(), clientConfig)
	if err != nil {
		conn.Close()
		return Result{Elapsed: time.Since(start)}, classifyHandshakeError(settings.address(), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{Elapsed: time.Since(start)}, &Error{
			Kind:    KindUnknown,
			Message: "could not open ssh session to " + endpoint.Address,
			Err:     err,
		}
	}

	var stdout bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stdout

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(command)
	}()

	select {
	case err := <-runErr:
		elapsed := time.Since(start)
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				// Command ran but exited non-zero; the output is still
				// meaningful to the caller.
				return Result{
					Output:   stdout.String(),
					ExitCode: exitErr.ExitStatus(),
					Elapsed:  elapsed,
				}, nil
			}
			return Result{Elapsed: elapsed}, classifyRunError(ctx, err)
		}
		return Result{Output: stdout.String(), Elapsed: elapsed}, nil
	case <-ctx.Done():
		// Abandon the session; closing the client unblocks the goroutine.
		go func() {
			session.Close()
			<-runErr
		}()
		return Result{Elapsed: time.Since(start)}, &Error{
			Kind:    KindTimeout,
			Message: "command on " + endpoint.Address + " exceeded deadline",
			Err:     ctx.Err(),
		}
	}
}

type settings struct {
	hostname     string
	port         string
	user         string
	identityFile string
}

func (s *settings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSettings fills endpoint fields from ~/.ssh/config where the caller
// left them empty.
func resolveSettings(endpoint Endpoint) *settings {
	s := &settings{
		hostname:     endpoint.Address,
		port:         "22",
		user:         endpoint.User,
		identityFile: endpoint.IdentityFile,
	}

	if host, port, err := net.SplitHostPort(endpoint.Address); err == nil {
		s.hostname = host
		s.port = port
	}

	alias := s.hostname
	if hostname := ssh_config.Get(alias, "HostName"); hostname != "" {
		s.hostname = hostname
	}
	if s.port == "22" {
		if port := ssh_config.Get(alias, "Port"); port != "" {
			s.port = port
		}
	}
	if s.user == "" {
		if user := ssh_config.Get(alias, "User"); user != "" {
			s.user = user
		}
	}
	if s.user == "" {
		s.user = currentUser()
	}
	if s.identityFile == "" {
		if identity := ssh_config.Get(alias, "IdentityFile"); identity != "" {
			s.identityFile = expandPath(identity)
		}
	}

	return s
}

func buildClientConfig(s *settings) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	keyPaths := []string{}
	if s.identityFile != "" {
		keyPaths = append(keyPaths, s.identityFile)
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(homeDir(), ".ssh", name)
		if path != s.identityFile {
			keyPaths = append(keyPaths, path)
		}
	}
	for _, path := range keyPaths {
		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			continue
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if len(authMethods) == 0 {
		return nil, &Error{Kind: KindAuth, Message: "no ssh auth methods available"}
	}

	return &ssh.ClientConfig{
		User: s.user,
		Auth: authMethods,
		// Probes run unattended against a fixed fleet; known_hosts churn
		// on reprovisioned nodes would silently blind the monitor.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	client := agent.NewClient(conn)
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil
	}
	return ssh.PublicKeysCallback(client.Signers)
}

func classifyDialError(address string, err error) *Error {
	msg := err.Error()
	kind := KindConnectivity
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: "cannot reach " + address, Err: err}
}

func classifyHandshakeError(address string, err error) *Error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods") ||
		strings.Contains(msg, "permission denied") {
		return &Error{Kind: KindAuth, Message: "ssh auth failed for " + address, Err: err}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return &Error{Kind: KindTimeout, Message: "ssh handshake with " + address + " timed out", Err: err}
	}
	return &Error{Kind: KindConnectivity, Message: "ssh handshake with " + address + " failed", Err: err}
}

func classifyRunError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return &Error{Kind: KindTimeout, Message: "command exceeded deadline", Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return &Error{Kind: KindTimeout, Message: "command timed out", Err: err}
	}
	return &Error{Kind: KindUnknown, Message: "command failed", Err: err}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
