package vault

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// EventStore persists vault scan outcomes.
type EventStore interface {
	AppendVaultEvent(ctx context.Context, state monitor.VaultState) error
}

// Publisher receives fresh vault states for live subscribers.
type Publisher interface {
	PublishVault(states []monitor.VaultState)
}

// Service runs vault scans on their own schedule, slower than probe
// rounds, and feeds results to the store and the broadcaster.
type Service struct {
	scanner   *Scanner
	paths     []string
	schedule  string
	store     EventStore
	publisher Publisher
	logger    *logger.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewService creates a vault service. schedule accepts cron expressions
// and @every shorthand.
func NewService(scanner *Scanner, paths []string, schedule string, store EventStore, publisher Publisher, log *logger.Logger) *Service {
	return &Service{
		scanner:   scanner,
		paths:     paths,
		schedule:  schedule,
		store:     store,
		publisher: publisher,
		logger:    log,
		cron:      cron.New(),
	}
}

// Start runs one scan immediately, then on every schedule boundary.
// Without paths the service is a no-op.
func (s *Service) Start() error {
	if len(s.paths) == 0 {
		s.logger.Info("no vault paths configured, scanner disabled")
		return nil
	}

	s.runScan()

	entryID, err := s.cron.AddFunc(s.schedule, s.runScan)
	if err != nil {
		return fmt.Errorf("invalid vault scan schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	return nil
}

// Stop halts the scan schedule. An in-flight scan finishes.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) runScan() {
	states := s.scanner.ScanAll(s.paths)

	ctx := context.Background()
	for _, state := range states {
		if state.Error != "" {
			s.logger.Warn("vault scan failed", "path", state.Path, "error", state.Error)
		}
		if err := s.store.AppendVaultEvent(ctx, state); err != nil {
			// Degraded: the update still reaches live subscribers, the
			// feed just has a gap.
			s.logger.Error("could not persist vault event", "path", state.Path, "error", err)
		}
	}

	s.publisher.PublishVault(states)
}
