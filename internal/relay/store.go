// ABOUTME: Per-agent event store backing the mailbox delivery mode.
// ABOUTME: Keeps the latest event per (agent, event type); panels drain on pull.

package relay

import (
	"sync"

	"github.com/fleetgate/fleetgate/internal/protocol"
)

// EventStore holds undelivered panel events keyed by agent id. Within
// one agent, a newer event of the same type replaces the older one, so
// a panel that polls slowly sees current state rather than a backlog.
type EventStore struct {
	mu     sync.Mutex
	agents map[string]*agentEvents
}

type agentEvents struct {
	byType map[string]protocol.PanelEvent
	order  []string
}

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{agents: make(map[string]*agentEvents)}
}

// Put records evt, replacing any stored event of the same type for the
// same agent.
func (s *EventStore) Put(evt protocol.PanelEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.agents[evt.AgentID]
	if !ok {
		entry = &agentEvents{byType: make(map[string]protocol.PanelEvent)}
		s.agents[evt.AgentID] = entry
	}
	if _, seen := entry.byType[evt.Event]; !seen {
		entry.order = append(entry.order, evt.Event)
	}
	entry.byType[evt.Event] = evt
}

// Take removes and returns all stored events for the agent, oldest
// event type first. Returns an empty slice when nothing is pending.
func (s *EventStore) Take(agentID string) []protocol.PanelEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.agents[agentID]
	if !ok {
		return []protocol.PanelEvent{}
	}
	delete(s.agents, agentID)

	out := make([]protocol.PanelEvent, 0, len(entry.order))
	for _, typ := range entry.order {
		out = append(out, entry.byType[typ])
	}
	return out
}

// Evict discards all stored events for the agent.
func (s *EventStore) Evict(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
}
