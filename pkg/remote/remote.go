package remote

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind classifies an execution failure so callers can fold it into
// their own taxonomy.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindConnectivity ErrorKind = "connectivity"
	KindTimeout      ErrorKind = "timeout"
	KindUnknown      ErrorKind = "unknown"
)

// Error is a classified execution failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Endpoint identifies a remote host to execute on. Credential resolution
// (keys, agent, ssh_config) is entirely this package's concern.
type Endpoint struct {
	Address      string // host or host:port
	User         string // optional, resolved from ssh config when empty
	IdentityFile string // optional private key path
}

// Result is the output of a completed command.
type Result struct {
	Output   string
	ExitCode int
	Elapsed  time.Duration
}

// Executor runs a command on a remote endpoint. Implementations must honor
// the context deadline; a run that outlives it is abandoned, not killed.
type Executor interface {
	Execute(ctx context.Context, endpoint Endpoint, command string) (Result, error)
}
