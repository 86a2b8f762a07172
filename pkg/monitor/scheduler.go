package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
)

// ResultStore persists sealed probe results. A store failure is the one
// condition that stops the scheduler: history correctness depends on it.
type ResultStore interface {
	Append(ctx context.Context, roundSeq uint64, result ProbeResult) error
}

// RoundSink receives each sealed round, after it has been persisted.
type RoundSink interface {
	PublishRound(round Round)
}

// Alerter is notified about node state transitions. Implementations must
// not block the probing loop.
type Alerter interface {
	NodeDown(node Node, result ProbeResult, consecutive int)
	NodeRecovered(node Node, result ProbeResult)
}

// NopAlerter discards all notifications.
type NopAlerter struct{}

func (NopAlerter) NodeDown(Node, ProbeResult, int) {}
func (NopAlerter) NodeRecovered(Node, ProbeResult) {}

// Scheduler drives probe rounds on a fixed interval. At most one round is
// in flight at any time; a tick that lands while a round is still running
// is skipped and the next regular tick proceeds on schedule.
type Scheduler struct {
	config *Config
	nodes  []Node
	prober *Prober
	store  ResultStore
	sink   RoundSink
	alerts Alerter
	logger *logger.Logger

	sequence uint64
	inFlight atomic.Bool

	// Per-node transition state, touched only inside a round. Rounds are
	// serialized by inFlight.
	lastStatus  map[string]ProbeStatus
	consecFails map[string]int
}

// NewScheduler creates a scheduler for a fixed node registry.
func NewScheduler(config *Config, nodes []Node, prober *Prober, store ResultStore, sink RoundSink, alerts Alerter, log *logger.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if alerts == nil {
		alerts = NopAlerter{}
	}
	return &Scheduler{
		config:      config,
		nodes:       nodes,
		prober:      prober,
		store:       store,
		sink:        sink,
		alerts:      alerts,
		logger:      log,
		lastStatus:  make(map[string]ProbeStatus, len(nodes)),
		consecFails: make(map[string]int, len(nodes)),
	}
}

// Run probes once immediately, then on every tick until the context is
// canceled. The only error it returns is a store append failure, which is
// fatal for the monitor.
func (s *Scheduler) Run(ctx context.Context) error {
	fatal := make(chan error, 1)

	s.startRound(ctx, fatal)

	ticker := time.NewTicker(s.config.RoundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return err
		case <-ticker.C:
			s.startRound(ctx, fatal)
		}
	}
}

// startRound launches a round unless one is already in flight, in which
// case the tick is skipped entirely.
func (s *Scheduler) startRound(ctx context.Context, fatal chan<- error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("round overlap, skipped tick",
			"lastSequence", atomic.LoadUint64(&s.sequence))
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		if err := s.runRound(ctx); err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}()
}

// runRound fans probes out to every node, fans results back in under a
// single wall-clock bound, seals the round, persists it, and publishes it.
func (s *Scheduler) runRound(ctx context.Context) error {
	sequence := atomic.AddUint64(&s.sequence, 1)
	startedAt := time.Now().UTC()

	log := s.logger.With("round", sequence)
	log.Debug("round started", "nodes", len(s.nodes))

	// Buffered to node count so abandoned probes never block on send; their
	// late results are drained and discarded after sealing.
	resultCh := make(chan ProbeResult, len(s.nodes))
	for _, node := range s.nodes {
		go func(n Node) {
			resultCh <- s.prober.Probe(ctx, n)
		}(node)
	}

	// The round's wall-clock bound is the per-node timeout, not the sum
	// over nodes: probes run concurrently and stragglers are abandoned.
	deadline := time.NewTimer(s.config.PerNodeTimeout + s.config.SealGrace)
	defer deadline.Stop()

	received := make(map[string]ProbeResult, len(s.nodes))
collect:
	for len(received) < len(s.nodes) {
		select {
		case result := <-resultCh:
			received[result.NodeID] = result
		case <-deadline.C:
			break collect
		}
	}

	// Seal: every node gets a final result. Stragglers become timeout
	// failures here and their eventual results are discarded.
	results := make([]ProbeResult, 0, len(s.nodes))
	abandoned := 0
	for _, node := range s.nodes {
		result, ok := received[node.ID]
		if !ok {
			abandoned++
			result = ProbeResult{
				NodeID:         node.ID,
				Timestamp:      time.Now().UTC(),
				Status:         StatusOffline,
				ResponseTimeMs: s.config.PerNodeTimeout.Milliseconds(),
				Activity:       "probe abandoned at round deadline",
				ErrorClass:     ErrorClassTimeout,
			}
		}
		results = append(results, result)
	}

	if abandoned > 0 {
		go s.drainLate(log, resultCh, abandoned)
	}

	round := Round{
		Sequence:    sequence,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Results:     results,
	}

	for _, result := range round.Results {
		if err := s.store.Append(ctx, round.Sequence, result); err != nil {
			log.Error("metrics store unavailable, stopping scheduler", "error", err)
			return err
		}
	}

	s.sink.PublishRound(round)
	s.trackTransitions(round)

	log.Info("round sealed",
		"duration", round.CompletedAt.Sub(round.StartedAt).String(),
		"online", countStatus(results, StatusOnline),
		"offline", countStatus(results, StatusOffline))
	return nil
}

// drainLate consumes results from probes that outlived the round and logs
// the discard. They are never applied retroactively to the sealed round.
func (s *Scheduler) drainLate(log *logger.Logger, resultCh <-chan ProbeResult, remaining int) {
	for i := 0; i < remaining; i++ {
		result := <-resultCh
		log.Warn("late probe result discarded",
			"node", result.NodeID, "status", string(result.Status))
	}
}

// trackTransitions feeds the alerter from the sealed round. Unknown →
// Online ⇄ Offline, re-evaluated every round; state is implicit in the
// result history, this bookkeeping exists only for alert thresholds.
func (s *Scheduler) trackTransitions(round Round) {
	nodesByID := make(map[string]Node, len(s.nodes))
	for _, n := range s.nodes {
		nodesByID[n.ID] = n
	}

	for _, result := range round.Results {
		previous := s.lastStatus[result.NodeID]
		s.lastStatus[result.NodeID] = result.Status

		if result.Status == StatusOffline {
			s.consecFails[result.NodeID]++
			if s.consecFails[result.NodeID] == s.config.FailureThreshold {
				s.alerts.NodeDown(nodesByID[result.NodeID], result, s.consecFails[result.NodeID])
			}
			continue
		}

		if previous == StatusOffline {
			s.alerts.NodeRecovered(nodesByID[result.NodeID], result)
		}
		s.consecFails[result.NodeID] = 0
	}
}

func countStatus(results []ProbeResult, status ProbeStatus) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}
