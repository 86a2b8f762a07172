package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
)

// DefaultQueueSize is the per-subscriber delivery queue bound.
const DefaultQueueSize = 16

// Broadcaster fans events out to live subscribers. Publishing never waits
// on any subscriber: each subscriber has a bounded queue and its own
// delivery goroutine, and a slow subscriber degrades to periodic snapshot
// resync instead of stalling the probing loop.
type Broadcaster struct {
	logger    *logger.Logger
	queueSize int

	// mu guards the subscriber set, the global sequence, and the latest
	// state used for snapshots. It is held only to snapshot the subscriber
	// list and assign sequences, never across a delivery attempt.
	mu        sync.Mutex
	sequence  uint64
	subs      map[string]*subscriber
	lastRound *monitor.Round
	lastVault []monitor.VaultState
}

type subscriber struct {
	id        string
	transport Transport

	mu            sync.Mutex
	queue         []Event
	needsResync   bool
	notify        chan struct{}
	done          chan struct{}
	lastDelivered uint64
}

// New creates a broadcaster.
func New(log *logger.Logger, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		logger:    log,
		queueSize: queueSize,
		subs:      make(map[string]*subscriber),
	}
}

// Subscribe registers a transport and returns its connection ID. A snapshot
// of current state is enqueued atomically with registration, so the
// subscriber cannot miss an event between connecting and the snapshot, nor
// receive an incremental update it has no baseline for.
func (b *Broadcaster) Subscribe(transport Transport) string {
	sub := &subscriber{
		id:        uuid.NewString(),
		transport: transport,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.sequence++
	snapshot := Event{
		Sequence: b.sequence,
		Type:     EventSnapshot,
		Round:    b.lastRound,
		Vault:    b.lastVault,
	}
	sub.queue = append(sub.queue, snapshot)
	b.subs[sub.id] = sub
	b.mu.Unlock()

	sub.wake()
	go b.deliverLoop(sub)

	b.logger.Debug("subscriber connected", "connection", sub.id)
	return sub.id
}

// Unsubscribe removes a subscriber and closes its transport.
func (b *Broadcaster) Unsubscribe(connectionID string) {
	b.mu.Lock()
	sub, ok := b.subs[connectionID]
	if ok {
		delete(b.subs, connectionID)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
		sub.transport.Close()
		b.logger.Debug("subscriber disconnected", "connection", connectionID)
	}
}

// PublishRound publishes a sealed round as a status update and records it
// as the snapshot baseline for future subscribers.
func (b *Broadcaster) PublishRound(round monitor.Round) {
	b.publish(func(sequence uint64) Event {
		b.lastRound = &round
		return Event{Sequence: sequence, Type: EventStatusUpdate, Round: &round}
	})
}

// PublishVault publishes fresh vault scan results.
func (b *Broadcaster) PublishVault(states []monitor.VaultState) {
	b.publish(func(sequence uint64) Event {
		b.lastVault = states
		return Event{Sequence: sequence, Type: EventVaultUpdate, Vault: states}
	})
}

// publish assigns the next global sequence, updates snapshot state, and
// enqueues the event for every subscriber. Sequence assignment is the one
// serialized point, so all subscribers observe the same relative order.
func (b *Broadcaster) publish(build func(sequence uint64) Event) {
	b.mu.Lock()
	b.sequence++
	event := build(b.sequence)
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.enqueue(sub, event)
	}
}

// enqueue adds the event to the subscriber's bounded queue. On overflow the
// oldest queued event is dropped and the subscriber is marked for resync:
// it will get a fresh snapshot instead of an inconsistent partial stream.
func (b *Broadcaster) enqueue(sub *subscriber, event Event) {
	sub.mu.Lock()
	if len(sub.queue) >= b.queueSize {
		sub.queue = sub.queue[1:]
		if !sub.needsResync {
			sub.needsResync = true
			b.logger.Warn("subscriber queue overflow, scheduling resync",
				"connection", sub.id)
		}
	}
	sub.queue = append(sub.queue, event)
	sub.mu.Unlock()
	sub.wake()
}

func (sub *subscriber) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// deliverLoop is the per-subscriber delivery goroutine. A transport failure
// removes only this subscriber; nothing propagates to the publisher or to
// other subscribers.
func (b *Broadcaster) deliverLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		for {
			event, ok := b.nextEvent(sub)
			if !ok {
				break
			}
			if err := sub.transport.Send(event); err != nil {
				b.logger.Warn("delivery failed, removing subscriber",
					"connection", sub.id, "error", err)
				b.Unsubscribe(sub.id)
				return
			}
			sub.mu.Lock()
			sub.lastDelivered = event.Sequence
			sub.mu.Unlock()
		}
	}
}

// nextEvent pops the next deliverable event. A subscriber marked for
// resync has its stale queue discarded and receives a fresh snapshot at
// the current sequence instead.
func (b *Broadcaster) nextEvent(sub *subscriber) (Event, bool) {
	sub.mu.Lock()
	if sub.needsResync {
		sub.needsResync = false
		sub.queue = sub.queue[:0]
		sub.mu.Unlock()

		b.mu.Lock()
		snapshot := Event{
			Sequence: b.sequence,
			Type:     EventSnapshot,
			Round:    b.lastRound,
			Vault:    b.lastVault,
		}
		b.mu.Unlock()
		return snapshot, true
	}

	if len(sub.queue) == 0 {
		sub.mu.Unlock()
		return Event{}, false
	}
	event := sub.queue[0]
	sub.queue = sub.queue[1:]
	sub.mu.Unlock()
	return event, true
}

// SubscriberCount reports the current number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
		sub.transport.Close()
	}
}
