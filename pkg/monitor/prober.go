package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/remote"
)

// DefaultProbeCommand is the diagnostic run against each node: reachability,
// uptime, and the most recent output file, all cheap on the remote side.
const DefaultProbeCommand = "uptime -p 2>/dev/null; ls -t ~/.openclaw/learnings 2>/dev/null | head -1"

// maxActivityLen bounds the activity snippet carried on a ProbeResult.
const maxActivityLen = 120

// Prober executes one health probe against one node. It never returns an
// error: every collaborator failure is converted into an offline
// ProbeResult with a classified error.
type Prober struct {
	executor remote.Executor
	command  string
	timeout  time.Duration
	logger   *logger.Logger
}

// NewProber creates a prober. command falls back to DefaultProbeCommand
// when empty.
func NewProber(executor remote.Executor, command string, timeout time.Duration, log *logger.Logger) *Prober {
	if command == "" {
		command = DefaultProbeCommand
	}
	return &Prober{
		executor: executor,
		command:  command,
		timeout:  timeout,
		logger:   log,
	}
}

// Probe runs the diagnostic command against node. The returned result is
// final: status, elapsed time, activity snippet, and error class.
func (p *Prober) Probe(ctx context.Context, node Node) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.executor.Execute(probeCtx, remote.Endpoint{
		Address:      node.Address,
		User:         node.User,
		IdentityFile: node.IdentityFile,
	}, p.command)

	if err != nil {
		return p.failureResult(node, res.Elapsed, err)
	}
	if res.ExitCode != 0 {
		// The node answered but the diagnostic failed; treat as reachable
		// with whatever output it produced.
		p.logger.Debug("probe command exited non-zero",
			"node", node.ID, "exitCode", res.ExitCode)
	}

	elapsed := res.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(start)
	}

	return ProbeResult{
		NodeID:         node.ID,
		Timestamp:      time.Now().UTC(),
		Status:         StatusOnline,
		ResponseTimeMs: elapsed.Milliseconds(),
		Activity:       lastMeaningfulLine(res.Output),
	}
}

// failureResult converts a collaborator error into an offline result,
// classifying it with the most specific class that applies.
func (p *Prober) failureResult(node Node, elapsed time.Duration, err error) ProbeResult {
	class := classify(err)
	summary := failureSummary(class, err)

	p.logger.Debug("probe failed",
		"node", node.ID, "class", string(class), "error", err)

	return ProbeResult{
		NodeID:         node.ID,
		Timestamp:      time.Now().UTC(),
		Status:         StatusOffline,
		ResponseTimeMs: elapsed.Milliseconds(),
		Activity:       truncate(summary, maxActivityLen),
		ErrorClass:     class,
	}
}

func classify(err error) ErrorClass {
	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) {
		switch remoteErr.Kind {
		case remote.KindAuth:
			return ErrorClassAuthentication
		case remote.KindConnectivity:
			return ErrorClassConnectivity
		case remote.KindTimeout:
			return ErrorClassTimeout
		}
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	return ErrorClassUnknown
}

func failureSummary(class ErrorClass, err error) string {
	switch class {
	case ErrorClassAuthentication:
		return fmt.Sprintf("authentication failed: %v", err)
	case ErrorClassConnectivity:
		return fmt.Sprintf("unreachable: %v", err)
	case ErrorClassTimeout:
		return "probe timed out"
	default:
		return fmt.Sprintf("probe failed: %v", err)
	}
}

// lastMeaningfulLine returns the last non-blank output line, truncated.
func lastMeaningfulLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return truncate(line, maxActivityLen)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
