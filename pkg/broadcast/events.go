package broadcast

import (
	"fmt"

	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// EventType discriminates the closed event union.
type EventType string

const (
	// EventSnapshot carries full state: the latest sealed round and the
	// latest vault scans. Always the first event a subscriber receives.
	EventSnapshot EventType = "snapshot"
	// EventStatusUpdate carries one newly sealed round.
	EventStatusUpdate EventType = "status_update"
	// EventVaultUpdate carries fresh vault scan results.
	EventVaultUpdate EventType = "vault_update"
)

// Event is a broadcast to live subscribers. Sequence numbers are assigned
// at publish time and are strictly increasing across the whole system;
// individual subscribers may observe gaps after a resync.
type Event struct {
	Sequence uint64               `json:"sequence"`
	Type     EventType            `json:"type"`
	Round    *monitor.Round       `json:"round,omitempty"`
	Vault    []monitor.VaultState `json:"vault,omitempty"`
}

// Validate checks that the payload matches the declared type. Events are
// validated at the transport boundary before serialization.
func (e Event) Validate() error {
	if e.Sequence == 0 {
		return fmt.Errorf("event without a sequence number")
	}
	switch e.Type {
	case EventSnapshot:
		// A snapshot before the first sealed round legitimately has a nil
		// round; vault may be empty.
		return nil
	case EventStatusUpdate:
		if e.Round == nil {
			return fmt.Errorf("status_update event without a round")
		}
		if e.Vault != nil {
			return fmt.Errorf("status_update event carrying vault state")
		}
		return nil
	case EventVaultUpdate:
		if e.Round != nil {
			return fmt.Errorf("vault_update event carrying a round")
		}
		if len(e.Vault) == 0 {
			return fmt.Errorf("vault_update event without vault state")
		}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}
