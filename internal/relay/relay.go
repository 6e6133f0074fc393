// ABOUTME: Event relay that fans agent events out to connected panels.
// ABOUTME: Supports broadcast (push) and mailbox (pull) delivery modes.

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
)

// Mode selects how agent events reach panels.
type Mode string

const (
	// ModeBroadcast pushes each event to every connected panel.
	ModeBroadcast Mode = "broadcast"
	// ModeMailbox stores events per agent for panels to pull.
	ModeMailbox Mode = "mailbox"
)

// Valid reports whether m is a recognised delivery mode.
func (m Mode) Valid() bool {
	return m == ModeBroadcast || m == ModeMailbox
}

// Relay consumes raw agent messages and distributes them to panels.
// A Relay never terminates an agent connection: malformed input is
// logged and dropped, and panel write failures are isolated per panel.
type Relay struct {
	registry *registry.Registry
	media    *mediacache.Cache
	events   *EventStore
	mode     Mode
	logger   *slog.Logger
}

// New creates a Relay in the given delivery mode.
func New(reg *registry.Registry, media *mediacache.Cache, mode Mode, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: reg,
		media:    media,
		events:   NewEventStore(),
		mode:     mode,
		logger:   logger.With("component", "relay"),
	}
}

// Events exposes the per-agent event store used in mailbox mode.
func (r *Relay) Events() *EventStore {
	return r.events
}

// HandleAgentMessage processes one raw message received from an agent
// connection. Malformed payloads are dropped without affecting the
// connection. Bulk thumbnail listings are stored in the media cache and
// never forwarded; every other event is wrapped with the agent's
// identity and delivered to panels per the configured mode.
func (r *Relay) HandleAgentMessage(src *registry.Conn, raw []byte) {
	evt, err := protocol.ParseEvent(raw)
	if err != nil {
		r.logger.Warn("dropping malformed agent message",
			"device_id", src.ID,
			"error", err,
		)
		return
	}

	if evt.Event == protocol.EventThumbnailsData {
		r.storeThumbnails(src.ID, evt.Data)
		return
	}

	env := protocol.PanelEvent{
		AgentID:   src.ID,
		AgentName: src.Name,
		Event:     evt.Event,
		Data:      evt.Data,
	}

	switch r.mode {
	case ModeMailbox:
		r.events.Put(env)
	default:
		payload, err := json.Marshal(env)
		if err != nil {
			r.logger.Error("encoding panel event", "event", evt.Event, "error", err)
			return
		}
		r.broadcast(payload)
	}
}

// BroadcastDirectory pushes the current agent directory to every
// connected panel. Called after any registry membership change so panels
// converge on the full list rather than tracking deltas.
func (r *Relay) BroadcastDirectory() {
	payload, err := r.directoryPayload()
	if err != nil {
		r.logger.Error("encoding directory update", "error", err)
		return
	}
	r.broadcast(payload)
}

// SendDirectory pushes the current agent directory to one panel. Used
// on panel connect so a fresh panel never waits for the next membership
// change to learn who is online.
func (r *Relay) SendDirectory(conn *registry.Conn) error {
	payload, err := r.directoryPayload()
	if err != nil {
		return fmt.Errorf("encoding directory update: %w", err)
	}
	if err := conn.Sender.Send(payload); err != nil {
		return fmt.Errorf("sending directory update: %w", err)
	}
	return nil
}

// EvictAgent discards stored state for a departed agent. Safe to call
// for agents that never stored anything.
func (r *Relay) EvictAgent(deviceID string) {
	r.events.Evict(deviceID)
}

func (r *Relay) directoryPayload() ([]byte, error) {
	update := protocol.NewDirectoryUpdate(r.registry.AgentSummaries())
	return json.Marshal(update)
}

// broadcast writes payload to every connected panel. A failed write is
// logged and skipped; one slow or dead panel must not starve the rest.
func (r *Relay) broadcast(payload []byte) {
	panels := r.registry.Senders(protocol.RolePanel)
	if len(panels) == 0 {
		return
	}
	for _, p := range panels {
		if err := p.Sender.Send(payload); err != nil {
			r.logger.Warn("panel broadcast write failed",
				"device_id", p.ID,
				"error", err,
			)
		}
	}
}

// storeThumbnails decodes a bulk listing event and records it as a
// complete fetch. Listings delivered over the event channel arrive in
// one piece, unlike the chunked HTTP submission path.
func (r *Relay) storeThumbnails(deviceID string, data json.RawMessage) {
	var thumbs []mediacache.Thumbnail
	if err := json.Unmarshal(data, &thumbs); err != nil {
		r.logger.Warn("dropping malformed thumbnail listing",
			"device_id", deviceID,
			"error", err,
		)
		return
	}
	n := r.media.AppendChunk(deviceID, thumbs, true)
	r.logger.Debug("stored thumbnail listing",
		"device_id", deviceID,
		"count", n,
	)
}
