package broadcast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// failingTransport rejects every send, simulating a dead client connection.
type failingTransport struct{}

func (failingTransport) Send(Event) error { return errors.New("connection reset") }
func (failingTransport) Close() error     { return nil }

func testRound(sequence uint64) monitor.Round {
	return monitor.Round{
		Sequence:    sequence,
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
		Results: []monitor.ProbeResult{
			{NodeID: "a", Status: monitor.StatusOnline, ResponseTimeMs: 12},
		},
	}
}

func receive(t *testing.T, transport *ChanTransport) Event {
	t.Helper()
	select {
	case event := <-transport.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	b.PublishRound(testRound(1))
	b.PublishRound(testRound(2))

	transport := NewChanTransport(4)
	b.Subscribe(transport)

	event := receive(t, transport)
	assert.Equal(t, EventSnapshot, event.Type)
	require.NotNil(t, event.Round)
	assert.Equal(t, uint64(2), event.Round.Sequence, "snapshot carries the latest sealed round")
	require.NoError(t, event.Validate())
}

func TestSubscribeBeforeFirstRound(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	transport := NewChanTransport(4)
	b.Subscribe(transport)

	event := receive(t, transport)
	assert.Equal(t, EventSnapshot, event.Type)
	assert.Nil(t, event.Round, "no round has been sealed yet")
}

func TestUpdatesFollowSnapshot(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	transport := NewChanTransport(8)
	b.Subscribe(transport)
	require.Equal(t, EventSnapshot, receive(t, transport).Type)

	b.PublishRound(testRound(1))
	event := receive(t, transport)
	assert.Equal(t, EventStatusUpdate, event.Type)
	require.NotNil(t, event.Round)
	assert.Equal(t, uint64(1), event.Round.Sequence)

	b.PublishVault([]monitor.VaultState{{Path: "/vault/one", FileCount: 3}})
	event = receive(t, transport)
	assert.Equal(t, EventVaultUpdate, event.Type)
	require.Len(t, event.Vault, 1)
}

func TestSequencesStrictlyIncreasing(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	transport := NewChanTransport(16)
	b.Subscribe(transport)

	for i := 1; i <= 5; i++ {
		b.PublishRound(testRound(uint64(i)))
	}

	var last uint64
	for i := 0; i < 6; i++ { // snapshot + 5 updates
		event := receive(t, transport)
		assert.Greater(t, event.Sequence, last)
		last = event.Sequence
	}
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	b.Subscribe(failingTransport{})
	healthy := NewChanTransport(16)
	b.Subscribe(healthy)

	for i := 1; i <= 3; i++ {
		b.PublishRound(testRound(uint64(i)))
	}

	// The healthy subscriber sees an unbroken stream.
	seen := 0
	for i := 0; i < 4; i++ { // snapshot + 3 updates
		event := receive(t, healthy)
		require.NoError(t, event.Validate())
		seen++
	}
	assert.Equal(t, 4, seen)

	// The failed subscriber is removed, not retried forever.
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberResyncsWithSnapshot(t *testing.T) {
	b := New(logger.NewDefault(), 2)
	defer b.Close()

	// Buffer of one and no reader: delivery stalls after the first sends,
	// the queue overflows, and the subscriber is marked for resync.
	transport := NewChanTransport(1)
	b.Subscribe(transport)

	for i := 1; i <= 10; i++ {
		b.PublishRound(testRound(uint64(i)))
	}

	// Draining must yield a fresh snapshot carrying the latest round, not a
	// stream with a silent gap.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-transport.Events():
			require.NoError(t, event.Validate())
			if event.Type == EventSnapshot && event.Round != nil && event.Round.Sequence == 10 {
				return
			}
		case <-deadline:
			t.Fatal("never received a resync snapshot")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(logger.NewDefault(), 0)
	defer b.Close()

	transport := NewChanTransport(4)
	id := b.Subscribe(transport)
	receive(t, transport)

	b.Unsubscribe(id)
	assert.Equal(t, 0, b.SubscriberCount())

	// Publishing after unsubscribe must not panic or deliver.
	b.PublishRound(testRound(1))
	select {
	case event, ok := <-transport.Events():
		if ok {
			t.Fatalf("unexpected event after unsubscribe: %+v", event)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventValidate(t *testing.T) {
	round := testRound(1)
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid snapshot", Event{Sequence: 1, Type: EventSnapshot}, false},
		{"valid status update", Event{Sequence: 1, Type: EventStatusUpdate, Round: &round}, false},
		{"valid vault update", Event{Sequence: 1, Type: EventVaultUpdate, Vault: []monitor.VaultState{{Path: "/v"}}}, false},
		{"status update without round", Event{Sequence: 1, Type: EventStatusUpdate}, true},
		{"status update with vault payload", Event{Sequence: 1, Type: EventStatusUpdate, Round: &round, Vault: []monitor.VaultState{{Path: "/v"}}}, true},
		{"vault update without states", Event{Sequence: 1, Type: EventVaultUpdate}, true},
		{"missing sequence", Event{Type: EventSnapshot}, true},
		{"unknown type", Event{Sequence: 1, Type: "mystery"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
